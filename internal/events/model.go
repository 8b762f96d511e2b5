package events

import "time"

// RegistrationStatus enumerates the lifecycle of a ticket registration.
type RegistrationStatus string

const (
	// RegistrationStatusConfirmed holds a ticket against tier inventory.
	RegistrationStatusConfirmed RegistrationStatus = "confirmed"
	// RegistrationStatusCancelled released its ticket back to the tier.
	RegistrationStatusCancelled RegistrationStatus = "cancelled"
)

// Category groups events for browsing.
type Category struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name      string    `gorm:"column:name;size:190;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "categories"
}

// Event is a published happening owned by an organizer account.
type Event struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OrganizerID string    `gorm:"column:organizer_id;size:190;not null;index" json:"organizerId"`
	CategoryID  string    `gorm:"column:category_id;size:190;index" json:"categoryId"`
	Title       string    `gorm:"column:title;size:320;not null" json:"title"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	Location    string    `gorm:"column:location;size:320" json:"location"`
	StartsAt    time.Time `gorm:"column:starts_at;not null;index" json:"startsAt"`
	EndsAt      time.Time `gorm:"column:ends_at" json:"endsAt"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`

	Tiers []TicketTier `gorm:"foreignKey:EventID;references:ID" json:"tiers"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// TicketTier tracks priced inventory for an event. Remaining is decremented
// on registration and incremented on cancellation, always inside the same
// transaction as the registration row.
type TicketTier struct {
	ID         string `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	EventID    string `gorm:"column:event_id;size:190;not null;index" json:"eventId"`
	Name       string `gorm:"column:name;size:190;not null" json:"name"`
	PriceCents int64  `gorm:"column:price_cents;not null;default:0" json:"priceCents"`
	Capacity   int64  `gorm:"column:capacity;not null" json:"capacity"`
	Remaining  int64  `gorm:"column:remaining;not null" json:"remaining"`
}

// TableName provides the explicit table binding for GORM.
func (TicketTier) TableName() string {
	return "ticket_tiers"
}

// Registration is one attendee's claim on one ticket.
type Registration struct {
	ID          string             `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	EventID     string             `gorm:"column:event_id;size:190;not null;index" json:"eventId"`
	TierID      string             `gorm:"column:tier_id;size:190;not null;index" json:"tierId"`
	UserID      string             `gorm:"column:user_id;size:190;not null;index" json:"userId"`
	Status      RegistrationStatus `gorm:"column:status;size:32;not null" json:"status"`
	PriceCents  int64              `gorm:"column:price_cents;not null" json:"priceCents"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	CancelledAt *time.Time         `gorm:"column:cancelled_at" json:"cancelledAt"`
}

// TableName provides the explicit table binding for GORM.
func (Registration) TableName() string {
	return "registrations"
}

// Feedback is attendee commentary on an event.
type Feedback struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	EventID   string    `gorm:"column:event_id;size:190;not null;index" json:"eventId"`
	UserID    string    `gorm:"column:user_id;size:190;not null" json:"userId"`
	Rating    int       `gorm:"column:rating;not null" json:"rating"`
	Comment   string    `gorm:"column:comment;type:text" json:"comment"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Feedback) TableName() string {
	return "feedback"
}

// Notification is an inbox entry fanned out to registered attendees.
type Notification struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index" json:"userId"`
	EventID   string    `gorm:"column:event_id;size:190;index" json:"eventId"`
	Title     string    `gorm:"column:title;size:320;not null" json:"title"`
	Body      string    `gorm:"column:body;type:text" json:"body"`
	Read      bool      `gorm:"column:read;not null;default:false" json:"read"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// DashboardStats aggregates an organizer's standing across their events.
type DashboardStats struct {
	EventCount          int64   `json:"eventCount"`
	ActiveRegistrations int64   `json:"activeRegistrations"`
	RevenueCents        int64   `json:"revenueCents"`
	AverageRating       float64 `json:"averageRating"`
}
