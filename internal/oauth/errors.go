package oauth

import "errors"

// Errors surfaced by the federated login subsystem. Handlers map these to the
// closed set of redirect codes and JSON statuses; provider-side detail is
// logged server-side only.
var (
	// ErrProviderUnavailable indicates OIDC discovery or key retrieval failed.
	ErrProviderUnavailable = errors.New("oauth: identity provider unavailable")
	// ErrTokenExchangeFailed indicates the code-for-token exchange or token verification failed.
	ErrTokenExchangeFailed = errors.New("oauth: token exchange failed")
	// ErrClaimsInvalid indicates the verified token lacked required claims.
	ErrClaimsInvalid = errors.New("oauth: claims missing required fields")
	// ErrFlowExpired indicates the flow-state cookies were absent or already consumed.
	ErrFlowExpired = errors.New("oauth: flow state expired")
	// ErrEmailNotVerified indicates the provider did not assert ownership of the email.
	ErrEmailNotVerified = errors.New("oauth: provider email not verified")
	// ErrAccountDeactivated indicates the resolved account is deactivated.
	ErrAccountDeactivated = errors.New("oauth: account deactivated")
	// ErrIdentityLinkedElsewhere indicates another account already owns the provider identity.
	ErrIdentityLinkedElsewhere = errors.New("oauth: identity linked to another account")
	// ErrLastLoginMethod indicates unlinking would leave the account without a way to sign in.
	ErrLastLoginMethod = errors.New("oauth: cannot remove last login method")
)
