package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates no account matched the lookup.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrIdentityTaken indicates the (provider, provider_user_id) pair already belongs to an account.
	ErrIdentityTaken = errors.New("users: provider identity already linked")
	// ErrEmailTaken indicates the email is already claimed by another account.
	ErrEmailTaken = errors.New("users: email already registered")

	errMissingStoreDatabase = errors.New("users: database handle is required")
)

// Store persists accounts and their linked identities.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// StoreConfig describes the dependencies required by the store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// NewStore constructs the account store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingStoreDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, clock: clock}, nil
}

// NewID returns a fresh account identifier.
func (s *Store) NewID() string {
	return uuid.NewString()
}

// FindByID loads an account and its linked identities.
func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, "id = ?", id)
}

// FindByEmail loads an account by exact email match.
func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, "email = ?", email)
}

// FindByProviderIdentity loads the account owning the given provider subject, if any.
func (s *Store) FindByProviderIdentity(ctx context.Context, provider, providerUserID string) (*User, error) {
	var identity LinkedIdentity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_user_id = ?", provider, providerUserID).
		Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, identity.UserID)
}

// Create persists a new account together with any linked identities.
func (s *Store) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = s.NewID()
	}
	for i := range user.Identities {
		user.Identities[i].UserID = user.ID
		if user.Identities[i].LinkedAt.IsZero() {
			user.Identities[i].LinkedAt = s.clock().UTC()
		}
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return translateDuplicate(err)
	}
	return nil
}

// Save persists profile-level fields of an existing account. Linked identities
// are managed through AddIdentity and RemoveProviderIdentities only.
func (s *Store) Save(ctx context.Context, user *User) error {
	if user.ID == "" {
		return ErrUserNotFound
	}
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"email":         user.Email,
			"username":      user.Username,
			"full_name":     user.FullName,
			"avatar_url":    user.AvatarURL,
			"password_hash": user.PasswordHash,
			"is_active":     user.IsActive,
			"role":          user.Role,
		}).Error
	if err != nil {
		return translateDuplicate(err)
	}
	return nil
}

// AddIdentity appends a linked identity row. The storage-level unique index on
// (provider, provider_user_id) is the race guard for concurrent first logins.
func (s *Store) AddIdentity(ctx context.Context, identity LinkedIdentity) error {
	if identity.UserID == "" {
		return fmt.Errorf("users: identity requires a user id")
	}
	if identity.LinkedAt.IsZero() {
		identity.LinkedAt = s.clock().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
		return translateDuplicate(err)
	}
	return nil
}

// RemoveProviderIdentities deletes every linked identity the account holds for
// the provider and returns how many rows were removed.
func (s *Store) RemoveProviderIdentities(ctx context.Context, userID, provider string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&LinkedIdentity{})
	return result.RowsAffected, result.Error
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Preload("Identities").
		Where(query, arg).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func translateDuplicate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		if strings.Contains(err.Error(), "users.email") {
			return fmt.Errorf("%w: %v", ErrEmailTaken, err)
		}
		return fmt.Errorf("%w: %v", ErrIdentityTaken, err)
	}
	return err
}
