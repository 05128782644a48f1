package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func InsertNotification(ctx context.Context, db *sql.DB, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO notifications (id, kind, message, created_at) VALUES (?, ?, ?, ?)`,
		n.ID, n.Kind, n.Message, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// RecentNotifications returns the newest notifications first.
func RecentNotifications(ctx context.Context, db *sql.DB, limit int) ([]Notification, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, message, created_at FROM notifications ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent notifications: %w", err)
	}
	defer rows.Close()

	var results []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Kind, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		results = append(results, n)
	}
	return results, rows.Err()
}
