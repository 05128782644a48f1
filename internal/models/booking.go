package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Client struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Booking carries the attribution columns written back by the resolver.
// AttributedAt is nil until a booking has been scored.
type Booking struct {
	ID                      int64      `json:"id"`
	ClientID                int64      `json:"client_id"`
	CreatedAt               time.Time  `json:"created_at"`
	AttributedDomain        string     `json:"attributed_domain"`
	AttributionConfidence   int        `json:"attribution_confidence"`
	AttributedAt            *time.Time `json:"attributed_at"`
	AttributionAction       string     `json:"attribution_action"`
	AttributionMinutesAgo   int        `json:"attribution_minutes_ago"`
	AttributionNeighborhood string     `json:"attribution_neighborhood"`
	AttributionClickID      int64      `json:"attribution_click_id"`
	AttributionClickedAt    *time.Time `json:"attribution_clicked_at"`
}

// BookingAttribution is the outcome written onto a booking. The zero
// value records "no attribution".
type BookingAttribution struct {
	Domain       string
	Confidence   int
	Action       string
	MinutesAgo   int
	Neighborhood string
	ClickID      int64
	ClickedAt    time.Time
}

func CreateClient(db *sql.DB, c *Client) error {
	res, err := db.Exec(`INSERT INTO clients (name, address) VALUES (?, ?)`, c.Name, c.Address)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// ClientAddress returns sql.ErrNoRows when the client does not exist.
func ClientAddress(ctx context.Context, db *sql.DB, clientID int64) (string, error) {
	var address string
	err := db.QueryRowContext(ctx, `SELECT address FROM clients WHERE id = ?`, clientID).Scan(&address)
	return address, err
}

func CreateBooking(db *sql.DB, b *Booking) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	res, err := db.Exec(`INSERT INTO bookings (client_id, created_at) VALUES (?, ?)`, b.ClientID, b.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	b.ID, _ = res.LastInsertId()
	return nil
}

func GetBooking(ctx context.Context, db *sql.DB, id int64) (*Booking, error) {
	var (
		b                    Booking
		domain, action, hood sql.NullString
		confidence, minutes  sql.NullInt64
		clickID              sql.NullInt64
		at, clickedAt        sql.NullTime
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, client_id, created_at, attributed_domain, attribution_confidence, attributed_at,
			attribution_action, attribution_minutes_ago, attribution_neighborhood,
			attribution_click_id, attribution_clicked_at
		FROM bookings WHERE id = ?`, id,
	).Scan(&b.ID, &b.ClientID, &b.CreatedAt, &domain, &confidence, &at,
		&action, &minutes, &hood, &clickID, &clickedAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.AttributedDomain = domain.String
	b.AttributionConfidence = int(confidence.Int64)
	b.AttributionAction = action.String
	b.AttributionMinutesAgo = int(minutes.Int64)
	b.AttributionNeighborhood = hood.String
	b.AttributionClickID = clickID.Int64
	if at.Valid {
		t := at.Time.UTC()
		b.AttributedAt = &t
	}
	if clickedAt.Valid {
		t := clickedAt.Time.UTC()
		b.AttributionClickedAt = &t
	}
	return &b, nil
}

// SetBookingAttribution overwrites whatever attribution the booking had.
func SetBookingAttribution(ctx context.Context, db *sql.DB, id int64, a BookingAttribution, at time.Time) error {
	var clickedAt any
	if !a.ClickedAt.IsZero() {
		clickedAt = a.ClickedAt.UTC()
	}
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET attributed_domain = ?, attribution_confidence = ?, attributed_at = ?,
			attribution_action = ?, attribution_minutes_ago = ?, attribution_neighborhood = ?,
			attribution_click_id = ?, attribution_clicked_at = ?
		WHERE id = ?`,
		a.Domain, a.Confidence, at.UTC(),
		a.Action, a.MinutesAgo, a.Neighborhood, a.ClickID, clickedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update booking attribution: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
