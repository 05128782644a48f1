// Package analytics ingests tracking beacons from the marketing sites and
// appends them to the event log in batches.
package analytics

import (
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/scmmishra/leadtrace/internal/metrics"
	"github.com/scmmishra/leadtrace/internal/models"
	"github.com/scmmishra/leadtrace/internal/neighborhood"
)

// RawEvent is a beacon as received, before validation.
type RawEvent struct {
	ReceivedAt  time.Time
	IP          string
	UserAgent   string
	Action      string
	Domain      string
	Referrer    string
	SessionID   string
	Device      string
	Page        string
	TimeOnPage  int
	FinalTime   int
	ScrollDepth int
	FinalScroll int
	RefCode     string
	FormStep    string
}

// IPBlocker is satisfied by *datacenter.Checker.
type IPBlocker interface {
	IsBlocked(ip string) bool
}

// Drop reasons, also used as metric labels.
const (
	DropBot        = "bot"
	DropBlockedIP  = "blocked_ip"
	DropInvalid    = "invalid"
	DropBufferFull = "buffer_full"
)

type Collector struct {
	ch      chan models.ClickEvent
	stop    chan struct{}
	db      *sql.DB
	blocker IPBlocker
	done    chan struct{}
}

// NewCollector starts the flush loop. blocker may be nil.
func NewCollector(db *sql.DB, blocker IPBlocker, bufferSize int, flushInterval time.Duration) *Collector {
	c := &Collector{
		ch:      make(chan models.ClickEvent, bufferSize),
		stop:    make(chan struct{}),
		db:      db,
		blocker: blocker,
		done:    make(chan struct{}),
	}
	go c.run(flushInterval)
	return c
}

// Push validates and enqueues a beacon without blocking. It returns the
// drop reason, or "" when the event was accepted.
func (c *Collector) Push(raw RawEvent) string {
	reason := c.screen(raw)
	if reason == "" {
		select {
		case c.ch <- normalize(raw):
			metrics.CollectorEventsAccepted.Inc()
			return ""
		default:
			reason = DropBufferFull
		}
	}
	metrics.CollectorEventsDropped.WithLabelValues(reason).Inc()
	return reason
}

func (c *Collector) screen(raw RawEvent) string {
	if !models.IsKnownAction(strings.ToLower(strings.TrimSpace(raw.Action))) ||
		neighborhood.NormalizeDomain(raw.Domain) == "" {
		return DropInvalid
	}
	if IsBot(raw.UserAgent) {
		return DropBot
	}
	if c.blocker != nil && raw.IP != "" && c.blocker.IsBlocked(raw.IP) {
		return DropBlockedIP
	}
	return ""
}

func normalize(raw RawEvent) models.ClickEvent {
	at := raw.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	device := strings.ToLower(strings.TrimSpace(raw.Device))
	switch device {
	case models.DeviceMobile, models.DeviceDesktop, models.DeviceTablet:
	default:
		device = DeviceFromUA(raw.UserAgent)
	}
	page := strings.TrimSpace(raw.Page)
	if page == "" {
		page = "/"
	}
	return models.ClickEvent{
		CreatedAt:   at.UTC(),
		Action:      strings.ToLower(strings.TrimSpace(raw.Action)),
		Domain:      neighborhood.NormalizeDomain(raw.Domain),
		Referrer:    strings.TrimSpace(raw.Referrer),
		SessionID:   strings.TrimSpace(raw.SessionID),
		VisitorIP:   raw.IP,
		Device:      device,
		Page:        page,
		TimeOnPage:  max(raw.TimeOnPage, 0),
		FinalTime:   max(raw.FinalTime, 0),
		ScrollDepth: min(max(raw.ScrollDepth, 0), 100),
		FinalScroll: min(max(raw.FinalScroll, 0), 100),
		RefCode:     raw.RefCode,
		FormStep:    raw.FormStep,
	}
}

// Shutdown flushes remaining events and returns.
func (c *Collector) Shutdown() {
	close(c.stop)
	<-c.done
}

func (c *Collector) run(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stop:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	var batch []models.ClickEvent
	for {
		select {
		case e := <-c.ch:
			batch = append(batch, e)
		default:
			goto done
		}
	}
done:
	if len(batch) == 0 {
		return
	}

	if err := models.BatchInsertClickEvents(c.db, batch); err != nil {
		log.Printf("analytics: flush error: %v", err)
	} else {
		log.Printf("analytics: flushed %d events", len(batch))
	}
}
