package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/moonrise-labs/gatherly/internal/users"
	"gorm.io/gorm"
)

func newTestResolver(t *testing.T) (*Resolver, *users.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&users.User{}, &users.LinkedIdentity{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := users.NewStore(users.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	resolver, err := NewResolver(ResolverConfig{
		Store: store,
		Clock: func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	return resolver, store
}

func verifiedClaims(subject, email string) Claims {
	return Claims{Subject: subject, Email: email, EmailVerified: true}
}

func TestResolveLoginCreatesNewAccount(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	claims := Claims{
		Subject:       "g-123",
		Email:         "new@example.com",
		EmailVerified: true,
		Name:          "New User",
	}
	account, action, err := resolver.ResolveLogin(ctx, ProviderGoogle, claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if action != ActionCreated {
		t.Fatalf("expected created action, got %s", action)
	}
	if account.Username != "new" {
		t.Fatalf("expected username derived from email local part, got %q", account.Username)
	}
	if account.FullName != "New User" {
		t.Fatalf("unexpected full name %q", account.FullName)
	}
	if account.HasPassword() {
		t.Fatalf("expected no password on OAuth-only account")
	}
	if len(account.Identities) != 1 {
		t.Fatalf("expected one linked identity, got %d", len(account.Identities))
	}
	identity := account.Identities[0]
	if identity.Provider != ProviderGoogle || identity.ProviderUserID != "g-123" {
		t.Fatalf("unexpected identity %#v", identity)
	}
}

func TestResolveLoginReturnsLinkedAccountWithoutMutation(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	first, _, err := resolver.ResolveLogin(ctx, ProviderGoogle, verifiedClaims("g-5", "five@example.com"))
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	again, action, err := resolver.ResolveLogin(ctx, ProviderGoogle, verifiedClaims("g-5", "five@example.com"))
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if action != ActionSignedIn {
		t.Fatalf("expected signed-in action, got %s", action)
	}
	if again.ID != first.ID {
		t.Fatalf("expected stable account id")
	}

	stored, err := store.FindByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(stored.Identities) != 1 {
		t.Fatalf("expected exactly one identity after repeat login, got %d", len(stored.Identities))
	}
}

func TestResolveLoginRejectsInvalidClaims(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	if _, _, err := resolver.ResolveLogin(ctx, ProviderGoogle, Claims{Email: "x@example.com", EmailVerified: true}); !errors.Is(err, ErrClaimsInvalid) {
		t.Fatalf("expected ErrClaimsInvalid for missing sub, got %v", err)
	}
	if _, _, err := resolver.ResolveLogin(ctx, ProviderGoogle, Claims{Subject: "g-1", EmailVerified: true}); !errors.Is(err, ErrClaimsInvalid) {
		t.Fatalf("expected ErrClaimsInvalid for missing email, got %v", err)
	}
}

func TestResolveLoginRefusesUnverifiedEmailAutoLink(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	local := &users.User{Email: "local@example.com", Username: "local", IsActive: true}
	if err := local.SetPassword("local-password"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	if err := store.Create(ctx, local); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	claims := Claims{Subject: "g-7", Email: "local@example.com", EmailVerified: false}
	_, _, err := resolver.ResolveLogin(ctx, ProviderGoogle, claims)
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}

	stored, err := store.FindByID(ctx, local.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(stored.Identities) != 0 {
		t.Fatalf("expected no identity linked on unverified email, got %d", len(stored.Identities))
	}
}

func TestResolveLoginAutoLinksVerifiedEmailAndFillsEmptyProfile(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	local := &users.User{Email: "link@example.com", Username: "link", IsActive: true}
	if err := local.SetPassword("local-password"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	if err := store.Create(ctx, local); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	claims := Claims{
		Subject:       "g-8",
		Email:         "link@example.com",
		EmailVerified: true,
		Name:          "Link Holder",
		Picture:       "https://lh3.example.com/photo.jpg",
	}
	account, action, err := resolver.ResolveLogin(ctx, ProviderGoogle, claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if action != ActionAutoLinked {
		t.Fatalf("expected auto-linked action, got %s", action)
	}
	if account.ID != local.ID {
		t.Fatalf("expected existing account to be resolved")
	}
	if account.FullName != "Link Holder" || account.AvatarURL != claims.Picture {
		t.Fatalf("expected empty profile fields filled, got %#v", account)
	}
	if account.IdentityFor(ProviderGoogle, "g-8") == nil {
		t.Fatalf("expected identity appended")
	}
}

func TestResolveLoginNeverOverwritesEditedProfile(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	local := &users.User{
		Email:    "edited@example.com",
		Username: "edited",
		FullName: "Chosen Name",
		IsActive: true,
	}
	if err := local.SetPassword("local-password"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	if err := store.Create(ctx, local); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	claims := Claims{
		Subject:       "g-9",
		Email:         "edited@example.com",
		EmailVerified: true,
		Name:          "Provider Name",
	}
	account, _, err := resolver.ResolveLogin(ctx, ProviderGoogle, claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if account.FullName != "Chosen Name" {
		t.Fatalf("expected user-edited name preserved, got %q", account.FullName)
	}
}

func TestResolveLoginRejectsDeactivatedAccount(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	account, _, err := resolver.ResolveLogin(ctx, ProviderGoogle, verifiedClaims("g-10", "inactive@example.com"))
	if err != nil {
		t.Fatalf("setup resolve failed: %v", err)
	}
	account.IsActive = false
	if err := store.Save(ctx, account); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	_, _, err = resolver.ResolveLogin(ctx, ProviderGoogle, verifiedClaims("g-10", "inactive@example.com"))
	if !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("expected ErrAccountDeactivated, got %v", err)
	}
}

func TestResolveLinkIsIdempotent(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	account := &users.User{Email: "owner@example.com", Username: "owner", IsActive: true}
	if err := account.SetPassword("owner-password"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	if err := store.Create(ctx, account); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	claims := verifiedClaims("g-20", "owner@example.com")
	linked, action, err := resolver.ResolveLink(ctx, ProviderGoogle, claims, account.ID)
	if err != nil {
		t.Fatalf("first link failed: %v", err)
	}
	if action != ActionLinked {
		t.Fatalf("expected linked action, got %s", action)
	}

	linked, action, err = resolver.ResolveLink(ctx, ProviderGoogle, claims, account.ID)
	if err != nil {
		t.Fatalf("second link failed: %v", err)
	}
	if action != ActionAlreadyLinked {
		t.Fatalf("expected already-linked action, got %s", action)
	}

	matching := 0
	for _, identity := range linked.Identities {
		if identity.Provider == ProviderGoogle && identity.ProviderUserID == "g-20" {
			matching++
		}
	}
	if matching != 1 {
		t.Fatalf("expected exactly one matching identity, got %d", matching)
	}
}

func TestResolveLinkRefusesIdentityOwnedElsewhere(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	_, _, err := resolver.ResolveLogin(ctx, ProviderGoogle, verifiedClaims("g-30", "holder@example.com"))
	if err != nil {
		t.Fatalf("setup resolve failed: %v", err)
	}

	other := &users.User{Email: "other@example.com", Username: "other", IsActive: true}
	if err := other.SetPassword("other-password"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, _, err = resolver.ResolveLink(ctx, ProviderGoogle, verifiedClaims("g-30", "holder@example.com"), other.ID)
	if !errors.Is(err, ErrIdentityLinkedElsewhere) {
		t.Fatalf("expected ErrIdentityLinkedElsewhere, got %v", err)
	}
}

func TestUnlinkRefusesLastLoginMethod(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	account, _, err := resolver.ResolveLogin(ctx, ProviderGoogle, verifiedClaims("g-40", "only@example.com"))
	if err != nil {
		t.Fatalf("setup resolve failed: %v", err)
	}

	_, err = resolver.Unlink(ctx, account.ID, ProviderGoogle)
	if !errors.Is(err, ErrLastLoginMethod) {
		t.Fatalf("expected ErrLastLoginMethod, got %v", err)
	}

	stored, err := store.FindByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(stored.Identities) != 1 {
		t.Fatalf("expected identity untouched after refused unlink, got %d", len(stored.Identities))
	}
}

func TestUnlinkThenReloginRelinksIdentity(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	account := &users.User{Email: "cycle@example.com", Username: "cycle", IsActive: true}
	if err := account.SetPassword("cycle-password"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	if err := store.Create(ctx, account); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	claims := verifiedClaims("g-50", "cycle@example.com")
	if _, _, err := resolver.ResolveLink(ctx, ProviderGoogle, claims, account.ID); err != nil {
		t.Fatalf("link failed: %v", err)
	}

	unlinked, err := resolver.Unlink(ctx, account.ID, ProviderGoogle)
	if err != nil {
		t.Fatalf("unlink failed: %v", err)
	}
	if len(unlinked.Identities) != 0 {
		t.Fatalf("expected all provider identities removed, got %d", len(unlinked.Identities))
	}

	relinked, action, err := resolver.ResolveLogin(ctx, ProviderGoogle, claims)
	if err != nil {
		t.Fatalf("relogin failed: %v", err)
	}
	if action != ActionAutoLinked {
		t.Fatalf("expected verified-email auto-link on relogin, got %s", action)
	}
	if relinked.ID != account.ID {
		t.Fatalf("expected relogin to resolve the same account")
	}
	if relinked.IdentityFor(ProviderGoogle, "g-50") == nil {
		t.Fatalf("expected identity re-linked as a new entry")
	}
}

func TestIdentityUniquenessAcrossAccounts(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	first, _, err := resolver.ResolveLogin(ctx, ProviderGoogle, verifiedClaims("g-60", "uniq@example.com"))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// A direct store write for the same identity against another account must
	// be rejected by the storage-level unique index.
	other := &users.User{Email: "intruder@example.com", Username: "intruder", IsActive: true}
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err = store.AddIdentity(ctx, users.LinkedIdentity{
		UserID:         other.ID,
		Provider:       ProviderGoogle,
		ProviderUserID: "g-60",
	})
	if !errors.Is(err, users.ErrIdentityTaken) {
		t.Fatalf("expected ErrIdentityTaken, got %v", err)
	}

	owner, err := store.FindByProviderIdentity(ctx, ProviderGoogle, "g-60")
	if err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if owner.ID != first.ID {
		t.Fatalf("identity owner changed unexpectedly")
	}
}
