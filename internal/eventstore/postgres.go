package eventstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scmmishra/leadtrace/internal/models"
)

// PostgresReader reads the event log from an external PostgreSQL database
// holding a click_events table with the same columns as the local schema.
type PostgresReader struct {
	pool    *pgxpool.Pool
	maxPage int
}

// NewPostgresReader connects and fails fast if the database is unreachable.
// maxPage is the server-side per-request row limit, 0 for none.
func NewPostgresReader(ctx context.Context, dbURL string, maxPage int) (*PostgresReader, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect events db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping events db: %w", err)
	}
	return &PostgresReader{pool: pool, maxPage: maxPage}, nil
}

func (r *PostgresReader) MaxPageSize() int { return r.maxPage }

func (r *PostgresReader) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresReader) Close() {
	r.pool.Close()
}

func (r *PostgresReader) ReadPage(ctx context.Context, q Query, offset, limit int) ([]models.ClickEvent, error) {
	where, args := postgresWhere(q)
	args = append(args, limit, offset)
	sql := `SELECT id, created_at, action, domain,
		COALESCE(referrer, ''), COALESCE(session_id, ''), COALESCE(visitor_ip, ''),
		COALESCE(NULLIF(device, ''), 'unknown'), COALESCE(NULLIF(page, ''), '/'),
		COALESCE(time_on_page, 0), COALESCE(final_time, 0),
		COALESCE(scroll_depth, 0), COALESCE(final_scroll, 0),
		COALESCE(ref_code, ''), COALESCE(form_step, '')
		FROM click_events WHERE ` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query click events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ClickEvent, error) {
		var e models.ClickEvent
		err := row.Scan(&e.ID, &e.CreatedAt, &e.Action, &e.Domain, &e.Referrer, &e.SessionID,
			&e.VisitorIP, &e.Device, &e.Page, &e.TimeOnPage, &e.FinalTime,
			&e.ScrollDepth, &e.FinalScroll, &e.RefCode, &e.FormStep)
		e.CreatedAt = e.CreatedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan click events: %w", err)
	}
	return events, nil
}

func postgresWhere(q Query) (string, []any) {
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !q.Since.IsZero() {
		clauses = append(clauses, "created_at >= "+arg(q.Since.UTC()))
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "created_at <= "+arg(q.Until.UTC()))
	}
	if len(q.Domains) > 0 {
		clauses = append(clauses, "domain = ANY("+arg(q.Domains)+")")
	}
	if len(q.Actions) > 0 {
		clauses = append(clauses, "action = ANY("+arg(q.Actions)+")")
	}
	if q.ReferredOnly {
		clauses = append(clauses, "LOWER(COALESCE(TRIM(referrer), '')) NOT IN ('', 'direct')")
	}
	if len(clauses) == 0 {
		return "TRUE", args
	}
	return strings.Join(clauses, " AND "), args
}
