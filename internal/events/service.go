package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrEventNotFound indicates no event matched the identifier.
	ErrEventNotFound = errors.New("events: event not found")
	// ErrTierNotFound indicates the ticket tier does not exist for the event.
	ErrTierNotFound = errors.New("events: ticket tier not found")
	// ErrRegistrationNotFound indicates no registration matched the identifier.
	ErrRegistrationNotFound = errors.New("events: registration not found")
	// ErrNotificationNotFound indicates no notification matched for the caller.
	ErrNotificationNotFound = errors.New("events: notification not found")
	// ErrNotOrganizer indicates the caller does not own the event.
	ErrNotOrganizer = errors.New("events: caller is not the organizer")
	// ErrSoldOut indicates the tier has no remaining inventory.
	ErrSoldOut = errors.New("events: ticket tier sold out")
	// ErrAlreadyCancelled indicates the registration was cancelled earlier.
	ErrAlreadyCancelled = errors.New("events: registration already cancelled")
	// ErrInvalidRating indicates feedback rating outside 1..5.
	ErrInvalidRating = errors.New("events: rating must be between 1 and 5")

	errMissingDatabase = errors.New("events: database handle is required")
)

// NotificationPublisher receives freshly persisted notifications for live
// delivery. Implementations must not block.
type NotificationPublisher interface {
	Publish(notification Notification)
}

// ServiceConfig describes the dependencies of the events service.
type ServiceConfig struct {
	Database  *gorm.DB
	Clock     func() time.Time
	Publisher NotificationPublisher
	Logger    *zap.Logger
}

// Service implements event, ticket, feedback, and notification operations.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	publisher NotificationPublisher
	logger    *zap.Logger
}

// NewService constructs the events service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        cfg.Database,
		clock:     clock,
		publisher: cfg.Publisher,
		logger:    logger,
	}, nil
}

// CreateCategory persists a new browsing category.
func (s *Service) CreateCategory(ctx context.Context, name string) (*Category, error) {
	category := &Category{ID: uuid.NewString(), Name: name}
	if err := s.db.WithContext(ctx).Create(category).Error; err != nil {
		return nil, err
	}
	return category, nil
}

// ListCategories returns all categories ordered by name.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	err := s.db.WithContext(ctx).Order("name ASC").Find(&categories).Error
	return categories, err
}

// EventInput carries the editable fields of an event.
type EventInput struct {
	Title       string
	Description string
	Location    string
	CategoryID  string
	StartsAt    time.Time
	EndsAt      time.Time
	Tiers       []TierInput
}

// TierInput describes one priced inventory bucket.
type TierInput struct {
	Name       string
	PriceCents int64
	Capacity   int64
}

// CreateEvent persists an event with its ticket tiers.
func (s *Service) CreateEvent(ctx context.Context, organizerID string, input EventInput) (*Event, error) {
	event := &Event{
		ID:          uuid.NewString(),
		OrganizerID: organizerID,
		CategoryID:  input.CategoryID,
		Title:       input.Title,
		Description: input.Description,
		Location:    input.Location,
		StartsAt:    input.StartsAt,
		EndsAt:      input.EndsAt,
	}
	for _, tier := range input.Tiers {
		event.Tiers = append(event.Tiers, TicketTier{
			ID:         uuid.NewString(),
			EventID:    event.ID,
			Name:       tier.Name,
			PriceCents: tier.PriceCents,
			Capacity:   tier.Capacity,
			Remaining:  tier.Capacity,
		})
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

// ListFilter narrows event listings.
type ListFilter struct {
	CategoryID   string
	OrganizerID  string
	UpcomingOnly bool
}

// ListEvents returns events matching the filter, soonest first.
func (s *Service) ListEvents(ctx context.Context, filter ListFilter) ([]Event, error) {
	query := s.db.WithContext(ctx).Preload("Tiers").Order("starts_at ASC")
	if filter.CategoryID != "" {
		query = query.Where("category_id = ?", filter.CategoryID)
	}
	if filter.OrganizerID != "" {
		query = query.Where("organizer_id = ?", filter.OrganizerID)
	}
	if filter.UpcomingOnly {
		query = query.Where("starts_at > ?", s.clock().UTC())
	}

	var list []Event
	if err := query.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// GetEvent loads one event with its tiers.
func (s *Service) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	var event Event
	err := s.db.WithContext(ctx).Preload("Tiers").Where("id = ?", eventID).Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// UpdateEvent applies edits from the organizer and notifies everyone holding
// a confirmed registration.
func (s *Service) UpdateEvent(ctx context.Context, organizerID, eventID string, input EventInput) (*Event, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != organizerID {
		return nil, ErrNotOrganizer
	}

	err = s.db.WithContext(ctx).Model(&Event{}).Where("id = ?", eventID).Updates(map[string]any{
		"title":       input.Title,
		"description": input.Description,
		"location":    input.Location,
		"category_id": input.CategoryID,
		"starts_at":   input.StartsAt,
		"ends_at":     input.EndsAt,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := s.notifyRegistrants(ctx, eventID, "Event updated",
		fmt.Sprintf("%q has been updated by the organizer.", input.Title)); err != nil {
		// Notification fan-out is best effort; the edit itself has committed.
		s.logger.Warn("notification fan-out failed", zap.String("event_id", eventID), zap.Error(err))
	}

	return s.GetEvent(ctx, eventID)
}

// DeleteEvent removes an event the organizer owns.
func (s *Service) DeleteEvent(ctx context.Context, organizerID, eventID string) error {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.OrganizerID != organizerID {
		return ErrNotOrganizer
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", eventID).Delete(&TicketTier{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", eventID).Delete(&Event{}).Error
	})
}

// Register claims one ticket from the tier, decrementing its inventory inside
// the same transaction as the registration row.
func (s *Service) Register(ctx context.Context, userID, eventID, tierID string) (*Registration, error) {
	var registration *Registration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tier TicketTier
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND event_id = ?", tierID, eventID).
			Take(&tier).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTierNotFound
		}
		if err != nil {
			return err
		}
		if tier.Remaining <= 0 {
			return ErrSoldOut
		}

		if err := tx.Model(&TicketTier{}).Where("id = ?", tier.ID).
			Update("remaining", gorm.Expr("remaining - 1")).Error; err != nil {
			return err
		}

		registration = &Registration{
			ID:         uuid.NewString(),
			EventID:    eventID,
			TierID:     tier.ID,
			UserID:     userID,
			Status:     RegistrationStatusConfirmed,
			PriceCents: tier.PriceCents,
		}
		return tx.Create(registration).Error
	})
	if err != nil {
		return nil, err
	}
	return registration, nil
}

// CancelRegistration releases the ticket back to its tier.
func (s *Service) CancelRegistration(ctx context.Context, userID, registrationID string) (*Registration, error) {
	var cancelled *Registration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var registration Registration
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", registrationID, userID).
			Take(&registration).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRegistrationNotFound
		}
		if err != nil {
			return err
		}
		if registration.Status == RegistrationStatusCancelled {
			return ErrAlreadyCancelled
		}

		now := s.clock().UTC()
		registration.Status = RegistrationStatusCancelled
		registration.CancelledAt = &now
		if err := tx.Model(&Registration{}).Where("id = ?", registration.ID).Updates(map[string]any{
			"status":       registration.Status,
			"cancelled_at": registration.CancelledAt,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&TicketTier{}).Where("id = ?", registration.TierID).
			Update("remaining", gorm.Expr("remaining + 1")).Error; err != nil {
			return err
		}

		cancelled = &registration
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// ListRegistrations returns the caller's registrations, newest first.
func (s *Service) ListRegistrations(ctx context.Context, userID string) ([]Registration, error) {
	var list []Registration
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// AddFeedback records attendee feedback for an event.
func (s *Service) AddFeedback(ctx context.Context, userID, eventID string, rating int, comment string) (*Feedback, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	feedback := &Feedback{
		ID:      uuid.NewString(),
		EventID: eventID,
		UserID:  userID,
		Rating:  rating,
		Comment: comment,
	}
	if err := s.db.WithContext(ctx).Create(feedback).Error; err != nil {
		return nil, err
	}
	return feedback, nil
}

// ListFeedback returns feedback for an event, newest first.
func (s *Service) ListFeedback(ctx context.Context, eventID string) ([]Feedback, error) {
	var list []Feedback
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// ListNotifications returns the caller's inbox, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	var list []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// MarkNotificationRead flags one of the caller's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// Dashboard aggregates the organizer's events, confirmed registrations,
// revenue, and average feedback rating.
func (s *Service) Dashboard(ctx context.Context, organizerID string) (DashboardStats, error) {
	var stats DashboardStats

	if err := s.db.WithContext(ctx).Model(&Event{}).
		Where("organizer_id = ?", organizerID).
		Count(&stats.EventCount).Error; err != nil {
		return DashboardStats{}, err
	}

	registrations := s.db.WithContext(ctx).Model(&Registration{}).
		Joins("JOIN events ON events.id = registrations.event_id").
		Where("events.organizer_id = ? AND registrations.status = ?", organizerID, RegistrationStatusConfirmed)
	if err := registrations.Count(&stats.ActiveRegistrations).Error; err != nil {
		return DashboardStats{}, err
	}

	var revenue struct{ Total int64 }
	if err := s.db.WithContext(ctx).Model(&Registration{}).
		Select("COALESCE(SUM(registrations.price_cents), 0) AS total").
		Joins("JOIN events ON events.id = registrations.event_id").
		Where("events.organizer_id = ? AND registrations.status = ?", organizerID, RegistrationStatusConfirmed).
		Scan(&revenue).Error; err != nil {
		return DashboardStats{}, err
	}
	stats.RevenueCents = revenue.Total

	var rating struct{ Average float64 }
	if err := s.db.WithContext(ctx).Model(&Feedback{}).
		Select("COALESCE(AVG(feedback.rating), 0) AS average").
		Joins("JOIN events ON events.id = feedback.event_id").
		Where("events.organizer_id = ?", organizerID).
		Scan(&rating).Error; err != nil {
		return DashboardStats{}, err
	}
	stats.AverageRating = rating.Average

	return stats, nil
}

func (s *Service) notifyRegistrants(ctx context.Context, eventID, title, body string) error {
	var userIDs []string
	if err := s.db.WithContext(ctx).Model(&Registration{}).
		Distinct("user_id").
		Where("event_id = ? AND status = ?", eventID, RegistrationStatusConfirmed).
		Pluck("user_id", &userIDs).Error; err != nil {
		return err
	}

	for _, userID := range userIDs {
		notification := Notification{
			ID:      uuid.NewString(),
			UserID:  userID,
			EventID: eventID,
			Title:   title,
			Body:    body,
		}
		if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
			return err
		}
		if s.publisher != nil {
			s.publisher.Publish(notification)
		}
	}
	return nil
}
