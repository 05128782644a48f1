package eventstore

import (
	"context"
	"database/sql"

	"github.com/scmmishra/leadtrace/internal/models"
)

// SQLReader reads the event log from the local database.
type SQLReader struct {
	DB *sql.DB
}

func (r SQLReader) ReadPage(ctx context.Context, q Query, offset, limit int) ([]models.ClickEvent, error) {
	return models.ClickEventsPage(ctx, r.DB, q, offset, limit)
}
