package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	ActionVisit       = "visit"
	ActionCall        = "call"
	ActionText        = "text"
	ActionBook        = "book"
	ActionDirections  = "directions"
	ActionScroll25    = "scroll_25"
	ActionScroll50    = "scroll_50"
	ActionScroll75    = "scroll_75"
	ActionScroll100   = "scroll_100"
	ActionEngaged30s  = "engaged_30s"
	ActionFormStart   = "form_start"
	ActionFormStep    = "form_step"
	ActionFormSuccess = "form_success"
	ActionFormAbandon = "form_abandon"
)

const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceTablet  = "tablet"
	DeviceUnknown = "unknown"
)

var knownActions = map[string]bool{
	ActionVisit: true, ActionCall: true, ActionText: true, ActionBook: true,
	ActionDirections: true, ActionScroll25: true, ActionScroll50: true,
	ActionScroll75: true, ActionScroll100: true, ActionEngaged30s: true,
	ActionFormStart: true, ActionFormStep: true, ActionFormSuccess: true,
	ActionFormAbandon: true,
}

// IsKnownAction reports whether a is one of the tracked event actions.
func IsKnownAction(a string) bool {
	return knownActions[a]
}

// ClickEvent is one immutable row of the event log.
type ClickEvent struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	Action      string    `json:"action"`
	Domain      string    `json:"domain"`
	Referrer    string    `json:"referrer"`
	SessionID   string    `json:"sessionId"`
	VisitorIP   string    `json:"visitorIp,omitempty"`
	Device      string    `json:"device"`
	Page        string    `json:"page"`
	TimeOnPage  int       `json:"timeOnPage"`
	FinalTime   int       `json:"finalTime"`
	ScrollDepth int       `json:"scrollDepth"`
	FinalScroll int       `json:"finalScroll"`
	RefCode     string    `json:"refCode,omitempty"`
	FormStep    string    `json:"formStep,omitempty"`
}

// EffectiveTime prefers the page-leave value over the running one.
func (e ClickEvent) EffectiveTime() int {
	if e.FinalTime > 0 {
		return e.FinalTime
	}
	return e.TimeOnPage
}

func (e ClickEvent) EffectiveScroll() int {
	if e.FinalScroll > 0 {
		return e.FinalScroll
	}
	return e.ScrollDepth
}

// IsCTA reports whether the event is a high-intent click.
func (e ClickEvent) IsCTA() bool {
	switch e.Action {
	case ActionCall, ActionText, ActionBook, ActionDirections:
		return true
	}
	return false
}

// EventFilter narrows a read of the event log. Zero values mean unbounded.
type EventFilter struct {
	Since        time.Time
	Until        time.Time
	Domains      []string
	Actions      []string
	ReferredOnly bool
}

func (f EventFilter) where() (string, []any) {
	var clauses []string
	var args []any

	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.Until.UTC())
	}
	if len(f.Domains) > 0 {
		clauses = append(clauses, "domain IN ("+placeholders(len(f.Domains))+")")
		for _, d := range f.Domains {
			args = append(args, d)
		}
	}
	if len(f.Actions) > 0 {
		clauses = append(clauses, "action IN ("+placeholders(len(f.Actions))+")")
		for _, a := range f.Actions {
			args = append(args, a)
		}
	}
	if f.ReferredOnly {
		clauses = append(clauses, "referrer IS NOT NULL AND TRIM(referrer) != '' AND LOWER(TRIM(referrer)) != 'direct'")
	}

	if len(clauses) == 0 {
		return "1=1", args
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

const clickEventColumns = `id, created_at, action, domain, referrer, session_id, visitor_ip, device, page,
	time_on_page, final_time, scroll_depth, final_scroll, ref_code, form_step`

// ClickEventsPage returns up to limit rows matching f, newest first,
// skipping the first offset rows.
func ClickEventsPage(ctx context.Context, db *sql.DB, f EventFilter, offset, limit int) ([]ClickEvent, error) {
	where, args := f.where()
	query := "SELECT " + clickEventColumns + " FROM click_events WHERE " + where +
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query click events: %w", err)
	}
	defer rows.Close()

	var events []ClickEvent
	for rows.Next() {
		e, err := scanClickEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan click event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanClickEvent falls back to safe defaults for NULL columns so one
// half-written row cannot poison a whole report.
func scanClickEvent(row rowScanner) (ClickEvent, error) {
	var (
		e                                        ClickEvent
		domain                                   string
		referrer, session, ip, device, page      sql.NullString
		refCode, formStep                        sql.NullString
		timeOnPage, finalTime, scroll, finScroll sql.NullInt64
	)
	if err := row.Scan(
		&e.ID, &e.CreatedAt, &e.Action, &domain, &referrer, &session, &ip, &device, &page,
		&timeOnPage, &finalTime, &scroll, &finScroll, &refCode, &formStep,
	); err != nil {
		return ClickEvent{}, err
	}

	e.CreatedAt = e.CreatedAt.UTC()
	e.Domain = domain
	e.Referrer = referrer.String
	e.SessionID = session.String
	e.VisitorIP = ip.String
	e.Device = device.String
	if e.Device == "" {
		e.Device = DeviceUnknown
	}
	e.Page = page.String
	if e.Page == "" {
		e.Page = "/"
	}
	e.TimeOnPage = int(timeOnPage.Int64)
	e.FinalTime = int(finalTime.Int64)
	e.ScrollDepth = int(scroll.Int64)
	e.FinalScroll = int(finScroll.Int64)
	e.RefCode = refCode.String
	e.FormStep = formStep.String
	return e, nil
}

func BatchInsertClickEvents(db *sql.DB, events []ClickEvent) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO click_events (created_at, action, domain, referrer, session_id, visitor_ip, device, page, time_on_page, final_time, scroll_depth, final_scroll, ref_code, form_step) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.Exec(
			e.CreatedAt.UTC(), e.Action, e.Domain, nullString(e.Referrer), nullString(e.SessionID),
			nullString(e.VisitorIP), nullString(e.Device), nullString(e.Page),
			e.TimeOnPage, e.FinalTime, e.ScrollDepth, e.FinalScroll,
			nullString(e.RefCode), nullString(e.FormStep),
		)
		if err != nil {
			return fmt.Errorf("insert click event: %w", err)
		}
	}

	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
