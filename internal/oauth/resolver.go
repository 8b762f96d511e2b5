package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moonrise-labs/gatherly/internal/users"
	"go.uber.org/zap"
)

// Action describes what resolution did to the account store.
type Action string

const (
	// ActionSignedIn matched an already linked identity; nothing was mutated.
	ActionSignedIn Action = "signed_in"
	// ActionAutoLinked attached the identity to an existing account matched by verified email.
	ActionAutoLinked Action = "auto_linked"
	// ActionCreated created a brand-new account for the identity.
	ActionCreated Action = "created"
	// ActionLinked attached the identity to the current session's account.
	ActionLinked Action = "linked"
	// ActionAlreadyLinked found the identity already on the current account; no-op.
	ActionAlreadyLinked Action = "already_linked"
)

var errMissingResolverStore = errors.New("oauth: account store is required")

// ResolverConfig describes the dependencies of the account resolver.
type ResolverConfig struct {
	Store  *users.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Resolver maps verified provider claims to exactly one account, enforcing
// the active-account, unique-identity, and last-login-method invariants.
type Resolver struct {
	store  *users.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewResolver constructs the resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errMissingResolverStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: cfg.Store, clock: clock, logger: logger}, nil
}

// ResolveLogin maps claims to an account for an unauthenticated sign-in:
// returning linked user, verified-email auto-link, or account creation.
func (r *Resolver) ResolveLogin(ctx context.Context, provider string, claims Claims) (*users.User, Action, error) {
	if err := validateClaims(claims); err != nil {
		return nil, "", err
	}
	return r.resolveLogin(ctx, provider, claims, true)
}

func (r *Resolver) resolveLogin(ctx context.Context, provider string, claims Claims, allowRetry bool) (*users.User, Action, error) {
	owner, err := r.store.FindByProviderIdentity(ctx, provider, claims.Subject)
	if err == nil {
		if !owner.IsActive {
			return nil, "", ErrAccountDeactivated
		}
		return owner, ActionSignedIn, nil
	}
	if !errors.Is(err, users.ErrUserNotFound) {
		return nil, "", err
	}

	existing, err := r.store.FindByEmail(ctx, claims.Email)
	if err == nil {
		return r.autoLink(ctx, provider, claims, existing, allowRetry)
	}
	if !errors.Is(err, users.ErrUserNotFound) {
		return nil, "", err
	}

	created := &users.User{
		Email:     claims.Email,
		Username:  users.UsernameFromEmail(claims.Email),
		FullName:  claims.Name,
		AvatarURL: claims.Picture,
		IsActive:  true,
		Role:      users.RoleAttendee,
		Identities: []users.LinkedIdentity{
			identityFromClaims(provider, claims, "", r.clock().UTC()),
		},
	}
	if err := r.store.Create(ctx, created); err != nil {
		// A concurrent first login for the same identity or email beat us to
		// the write; the unique indexes are the arbiter, so re-run the lookup.
		if allowRetry && (errors.Is(err, users.ErrIdentityTaken) || errors.Is(err, users.ErrEmailTaken)) {
			r.logger.Info("login resolution raced, retrying lookup",
				zap.String("provider", provider))
			return r.resolveLogin(ctx, provider, claims, false)
		}
		return nil, "", err
	}

	r.logger.Info("account created from external identity",
		zap.String("provider", provider),
		zap.String("user_id", created.ID))
	return created, ActionCreated, nil
}

func (r *Resolver) autoLink(ctx context.Context, provider string, claims Claims, account *users.User, allowRetry bool) (*users.User, Action, error) {
	if !account.IsActive {
		return nil, "", ErrAccountDeactivated
	}

	if account.IdentityFor(provider, claims.Subject) == nil {
		identity := identityFromClaims(provider, claims, account.ID, r.clock().UTC())
		if err := r.store.AddIdentity(ctx, identity); err != nil {
			if allowRetry && errors.Is(err, users.ErrIdentityTaken) {
				return r.resolveLogin(ctx, provider, claims, false)
			}
			return nil, "", err
		}
	}

	if mergeProfile(account, claims) {
		if err := r.store.Save(ctx, account); err != nil {
			return nil, "", err
		}
	}

	refreshed, err := r.store.FindByID(ctx, account.ID)
	if err != nil {
		return nil, "", err
	}

	r.logger.Info("external identity auto-linked by verified email",
		zap.String("provider", provider),
		zap.String("user_id", account.ID))
	return refreshed, ActionAutoLinked, nil
}

// ResolveLink attaches the identity in claims to the current session's
// account. Linking an identity owned by a different account fails; linking one
// already on this account is a no-op.
func (r *Resolver) ResolveLink(ctx context.Context, provider string, claims Claims, currentUserID string) (*users.User, Action, error) {
	if err := validateClaims(claims); err != nil {
		return nil, "", err
	}

	owner, err := r.store.FindByProviderIdentity(ctx, provider, claims.Subject)
	if err == nil && owner.ID != currentUserID {
		return nil, "", ErrIdentityLinkedElsewhere
	}
	if err != nil && !errors.Is(err, users.ErrUserNotFound) {
		return nil, "", err
	}

	current, err := r.store.FindByID(ctx, currentUserID)
	if err != nil {
		return nil, "", err
	}
	if !current.IsActive {
		return nil, "", ErrAccountDeactivated
	}

	if current.IdentityFor(provider, claims.Subject) != nil {
		return current, ActionAlreadyLinked, nil
	}

	identity := identityFromClaims(provider, claims, current.ID, r.clock().UTC())
	if err := r.store.AddIdentity(ctx, identity); err != nil {
		if errors.Is(err, users.ErrIdentityTaken) {
			// Raced with another link of the same identity. Whoever owns it
			// now decides the outcome.
			raceOwner, lookupErr := r.store.FindByProviderIdentity(ctx, provider, claims.Subject)
			if lookupErr == nil && raceOwner.ID == currentUserID {
				return raceOwner, ActionAlreadyLinked, nil
			}
			return nil, "", ErrIdentityLinkedElsewhere
		}
		return nil, "", err
	}

	refreshed, err := r.store.FindByID(ctx, current.ID)
	if err != nil {
		return nil, "", err
	}
	return refreshed, ActionLinked, nil
}

// Unlink removes every identity the account holds for the provider, refusing
// when that would leave the account with no way to sign in.
func (r *Resolver) Unlink(ctx context.Context, userID, provider string) (*users.User, error) {
	account, err := r.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrAccountDeactivated
	}

	toRemove := 0
	for _, identity := range account.Identities {
		if identity.Provider == provider {
			toRemove++
		}
	}
	if toRemove == 0 {
		return account, nil
	}

	remaining := len(account.Identities) - toRemove
	if !account.HasPassword() && remaining == 0 {
		return nil, ErrLastLoginMethod
	}

	if _, err := r.store.RemoveProviderIdentities(ctx, userID, provider); err != nil {
		return nil, err
	}

	refreshed, err := r.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("external identity unlinked",
		zap.String("provider", provider),
		zap.String("user_id", userID))
	return refreshed, nil
}

func validateClaims(claims Claims) error {
	if claims.Subject == "" {
		return fmt.Errorf("%w: sub", ErrClaimsInvalid)
	}
	if claims.Email == "" {
		return fmt.Errorf("%w: email", ErrClaimsInvalid)
	}
	if !claims.EmailVerified {
		return ErrEmailNotVerified
	}
	return nil
}

func identityFromClaims(provider string, claims Claims, userID string, linkedAt time.Time) users.LinkedIdentity {
	return users.LinkedIdentity{
		UserID:         userID,
		Provider:       provider,
		ProviderUserID: claims.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		LinkedAt:       linkedAt,
	}
}

// mergeProfile fills empty profile fields from claims without ever
// overwriting user-edited values. Reports whether anything changed.
func mergeProfile(account *users.User, claims Claims) bool {
	changed := false
	if account.FullName == "" && claims.Name != "" {
		account.FullName = claims.Name
		changed = true
	}
	if account.AvatarURL == "" && claims.Picture != "" {
		account.AvatarURL = claims.Picture
		changed = true
	}
	if account.Username == "" {
		account.Username = users.UsernameFromEmail(claims.Email)
		changed = true
	}
	return changed
}
