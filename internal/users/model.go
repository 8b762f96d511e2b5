package users

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	// ErrPasswordTooShort indicates the supplied password does not meet the minimum length.
	ErrPasswordTooShort = errors.New("users: password too short")
	// ErrInvalidCredentials indicates an email/password pair did not match a usable account.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
)

// Role values assigned to accounts.
const (
	RoleAttendee  = "attendee"
	RoleOrganizer = "organizer"
	RoleAdmin     = "admin"
)

// User is the canonical account record. External logins reference it through
// LinkedIdentity rows; OAuth-only accounts carry no password hash.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	Username     string    `gorm:"column:username;size:190;not null"`
	FullName     string    `gorm:"column:full_name;size:320"`
	AvatarURL    string    `gorm:"column:avatar_url;size:512"`
	PasswordHash *string   `gorm:"column:password_hash;size:190"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true"`
	Role         string    `gorm:"column:role;size:32;not null;default:attendee"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Identities []LinkedIdentity `gorm:"foreignKey:UserID;references:ID"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// LinkedIdentity ties one external provider subject to one local account.
// The (provider, provider_user_id) pair is unique across the whole store.
type LinkedIdentity struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID         string    `gorm:"column:user_id;size:190;not null;index"`
	Provider       string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_identities_provider_subject,priority:1"`
	ProviderUserID string    `gorm:"column:provider_user_id;size:190;not null;uniqueIndex:idx_identities_provider_subject,priority:2"`
	Email          string    `gorm:"column:email;size:320"`
	EmailVerified  bool      `gorm:"column:email_verified;not null;default:false"`
	LinkedAt       time.Time `gorm:"column:linked_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LinkedIdentity) TableName() string {
	return "linked_identities"
}

// HasPassword reports whether the account can authenticate with a local password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// IdentityFor returns the linked identity matching provider and subject, if any.
func (u *User) IdentityFor(provider, providerUserID string) *LinkedIdentity {
	for i := range u.Identities {
		if u.Identities[i].Provider == provider && u.Identities[i].ProviderUserID == providerUserID {
			return &u.Identities[i]
		}
	}
	return nil
}

// SetPassword hashes and stores the plaintext password on the account.
func (u *User) SetPassword(plaintext string) error {
	if len(plaintext) < minPasswordLength {
		return ErrPasswordTooShort
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	hash := string(hashed)
	u.PasswordHash = &hash
	return nil
}

// CheckPassword compares the plaintext password against the stored hash.
func (u *User) CheckPassword(plaintext string) error {
	if !u.HasPassword() {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(plaintext)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// UsernameFromEmail derives a default username from the local part of an email address.
func UsernameFromEmail(email string) string {
	trimmed := strings.TrimSpace(email)
	if at := strings.Index(trimmed, "@"); at > 0 {
		return trimmed[:at]
	}
	return trimmed
}
