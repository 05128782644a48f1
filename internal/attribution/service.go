package attribution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scmmishra/leadtrace/internal/metrics"
	"github.com/scmmishra/leadtrace/internal/models"
)

// ErrWriteBack is returned alongside a valid Result when the booking row
// could not be updated.
var ErrWriteBack = errors.New("attribution write-back failed")

const (
	KindLead         = "lead_attribution"
	KindBooking      = "booking_attribution"
	KindWriteBackErr = "attribution_error"
)

type Notifier interface {
	Notify(ctx context.Context, kind, message string) error
}

// DBNotifier stores notifications in the notifications table for the admin
// dashboard.
type DBNotifier struct {
	DB *sql.DB
}

func (n DBNotifier) Notify(ctx context.Context, kind, message string) error {
	return models.InsertNotification(ctx, n.DB, &models.Notification{Kind: kind, Message: message})
}

// Service wires the resolver to the booking table and the notification
// channel.
type Service struct {
	db       *sql.DB
	resolver *Resolver
	notifier Notifier
	// overwrite re-scores bookings that already carry an attribution.
	overwrite bool
	now       func() time.Time
}

func NewService(db *sql.DB, resolver *Resolver, notifier Notifier, overwrite bool) *Service {
	return &Service{
		db:        db,
		resolver:  resolver,
		notifier:  notifier,
		overwrite: overwrite,
		now:       time.Now,
	}
}

// Check is a dry run: no write-back, no notification.
func (s *Service) Check(ctx context.Context, address string, asOf time.Time) (*Result, error) {
	return s.resolver.Attribute(ctx, address, asOf)
}

// AttributeCollectForm attributes a lead captured by a contact form.
func (s *Service) AttributeCollectForm(ctx context.Context, name, address string, clientID int64) (*Result, error) {
	res, err := s.resolver.Attribute(ctx, address, s.now().UTC())
	if err != nil {
		return nil, err
	}
	countResult(res)

	msg := fmt.Sprintf("New lead %s (client #%d): %s", name, clientID, describe(res, "before submission"))
	s.notify(ctx, KindLead, msg)
	return res, nil
}

// AutoAttributeBooking attributes a booking as of its creation time and
// stores the outcome on the booking row. Bookings that were already
// scored are returned as stored unless the service overwrites. A zero
// clientID or createdAt falls back to the booking row.
func (s *Service) AutoAttributeBooking(ctx context.Context, bookingID, clientID int64, createdAt time.Time) (*Result, error) {
	booking, err := models.GetBooking(ctx, s.db, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", bookingID, err)
	}
	if booking.AttributedAt != nil && !s.overwrite {
		return storedResult(booking), nil
	}
	if clientID == 0 {
		clientID = booking.ClientID
	}
	if createdAt.IsZero() {
		createdAt = booking.CreatedAt
	}

	address, err := models.ClientAddress(ctx, s.db, clientID)
	if err != nil {
		return nil, fmt.Errorf("get client %d address: %w", clientID, err)
	}

	res, err := s.resolver.Attribute(ctx, address, createdAt.UTC())
	if err != nil {
		return nil, err
	}
	countResult(res)

	var stored models.BookingAttribution
	if res != nil {
		stored = models.BookingAttribution{
			Domain:       res.Domain,
			Confidence:   res.Confidence,
			Action:       res.Action,
			MinutesAgo:   res.MinutesAgo,
			Neighborhood: res.Neighborhood,
			ClickID:      res.SourceClickID,
			ClickedAt:    res.ClickedAt,
		}
	}
	if err := models.SetBookingAttribution(ctx, s.db, bookingID, stored, s.now()); err != nil {
		log.Printf("attribution: write-back for booking %d failed: %v", bookingID, err)
		s.notify(ctx, KindWriteBackErr, fmt.Sprintf("Booking #%d: attribution computed but not saved: %v", bookingID, err))
		return res, fmt.Errorf("%w: booking %d: %v", ErrWriteBack, bookingID, err)
	}

	s.notify(ctx, KindBooking, fmt.Sprintf("Booking #%d: %s", bookingID, describe(res, "before booking")))
	return res, nil
}

// notify never fails the caller.
func (s *Service) notify(ctx context.Context, kind, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, kind, msg); err != nil {
		log.Printf("attribution: notify %s: %v", kind, err)
	}
}

func storedResult(b *models.Booking) *Result {
	if b.AttributedDomain == "" {
		return nil
	}
	res := &Result{
		Domain:        b.AttributedDomain,
		Confidence:    b.AttributionConfidence,
		Action:        b.AttributionAction,
		MinutesAgo:    b.AttributionMinutesAgo,
		Neighborhood:  b.AttributionNeighborhood,
		SourceClickID: b.AttributionClickID,
	}
	if b.AttributionClickedAt != nil {
		res.ClickedAt = *b.AttributionClickedAt
	}
	return res
}

func countResult(res *Result) {
	action := "none"
	if res != nil {
		action = res.Action
	}
	metrics.Attributions.WithLabelValues(action).Inc()
}

func describe(res *Result, when string) string {
	if res == nil {
		return "no attribution found"
	}
	return fmt.Sprintf("attributed to %s (%s, %d%% confidence, %d min %s, %s)",
		res.Domain, res.Action, res.Confidence, res.MinutesAgo, when, res.Neighborhood)
}
