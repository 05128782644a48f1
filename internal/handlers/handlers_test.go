package handlers_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scmmishra/leadtrace/internal/analytics"
	"github.com/scmmishra/leadtrace/internal/attribution"
	"github.com/scmmishra/leadtrace/internal/db"
	"github.com/scmmishra/leadtrace/internal/eventstore"
	"github.com/scmmishra/leadtrace/internal/handlers"
	"github.com/scmmishra/leadtrace/internal/models"
	"github.com/scmmishra/leadtrace/internal/refcode"
	"github.com/scmmishra/leadtrace/internal/refdata"
	"github.com/scmmishra/leadtrace/internal/report"
)

const (
	testPassword = "test-secret"
	uesAddress   = "245 E 73rd St, New York, NY 10021"
	chromeUA     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type testEnv struct {
	router    *chi.Mux
	db        *sql.DB
	collector *analytics.Collector
}

func testRef() *refdata.Loader {
	return refdata.Static(&refdata.Reference{
		Neighborhoods:       map[string]string{"10021": "Upper East Side"},
		NeighborhoodDomains: map[string][]string{"Upper East Side": {"uesmaid.com"}},
		GenericDomains:      []string{"nycmaid.com"},
		SpamReferrers:       []string{"semalt"},
		SearchEngines:       refdata.DefaultSearchEngines,
	})
}

func setupRouter(t *testing.T, reader eventstore.PageReader) *testEnv {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if reader == nil {
		reader = eventstore.SQLReader{DB: database}
	}
	ref := testRef()
	events := eventstore.NewClient(reader, 0, 0)
	loc, _ := time.LoadLocation("America/New_York")

	service := attribution.NewService(database, attribution.NewResolver(events, ref), attribution.DBNotifier{DB: database}, false)
	collector := analytics.NewCollector(database, nil, 1000, time.Hour)
	t.Cleanup(func() {
		database.Close()
	})

	analyticsHandler := &handlers.AnalyticsHandler{Builder: report.NewBuilder(events, ref, nil), Location: loc}
	attributionHandler := &handlers.AttributionHandler{Service: service, DB: database}
	qrHandler := &handlers.QRHandler{Ref: ref}
	trackHandler := &handlers.TrackHandler{Collector: collector}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(handlers.AuthMiddleware(testPassword))
		r.Get("/analytics", analyticsHandler.Report)
		r.Get("/admin/dashboard", analyticsHandler.Dashboard)
		r.Post("/attribution/leads", attributionHandler.Lead)
		r.Get("/attribution/check", attributionHandler.Check)
		r.Post("/bookings/{id}/attribution", attributionHandler.Booking)
		r.Get("/notifications", attributionHandler.Notifications)
		r.Get("/qr", qrHandler.ServeHTTP)
	})
	r.With(handlers.BeaconCORS(ref)).Method(http.MethodPost, "/t", trackHandler)
	r.With(handlers.BeaconCORS(ref)).Method(http.MethodOptions, "/t", trackHandler)

	return &testEnv{router: r, db: database, collector: collector}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-API-Key", testPassword)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func seedCall(t *testing.T, d *sql.DB, ago time.Duration) {
	t.Helper()
	err := models.BatchInsertClickEvents(d, []models.ClickEvent{{
		CreatedAt: time.Now().UTC().Add(-ago),
		Action:    models.ActionCall,
		Domain:    "uesmaid.com",
		Referrer:  "https://google.com/search?q=maid",
		SessionID: "s1",
	}})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAuth_RejectsMissingKey(t *testing.T) {
	env := setupRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAnalytics_Report(t *testing.T) {
	env := setupRouter(t, nil)
	seedCall(t, env.db, time.Hour)

	rec := env.do(http.MethodGet, "/api/analytics?period=7d", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	for _, key := range []string{"overview", "trafficSources", "topPages", "devices", "journey", "hourlyTraffic", "recentVisitors", "formFunnels"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing %q", key)
		}
	}
	overview := body["overview"].(map[string]any)
	if overview["calls"].(float64) != 1 {
		t.Errorf("calls = %v, want 1", overview["calls"])
	}

	if rec := env.do(http.MethodGet, "/api/analytics?period=fortnight", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad period status = %d, want 400", rec.Code)
	}
}

type downReader struct{}

func (downReader) ReadPage(context.Context, eventstore.Query, int, int) ([]models.ClickEvent, error) {
	return nil, errors.New("connection refused")
}

func TestAnalytics_StoreFailureIsDistinguishable(t *testing.T) {
	env := setupRouter(t, downReader{})

	for _, path := range []string{"/api/analytics?period=today", "/api/admin/dashboard?days=1", "/api/attribution/check?address=10021"} {
		rec := env.do(http.MethodGet, path, "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", path, rec.Code)
			continue
		}
		if body := decode(t, rec); body["state"] != "store_unavailable" {
			t.Errorf("%s: state = %v", path, body["state"])
		}
	}
}

func TestDashboard(t *testing.T) {
	env := setupRouter(t, nil)
	seedCall(t, env.db, time.Hour)

	rec := env.do(http.MethodGet, "/api/admin/dashboard?days=0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["period"] != "all" {
		t.Errorf("period = %v, want all", body["period"])
	}
	if feed := body["liveFeed"].([]any); len(feed) != 1 {
		t.Errorf("liveFeed = %v", feed)
	}
	if stats := body["domainStats"].([]any); len(stats) != 1 {
		t.Errorf("domainStats = %v", stats)
	}

	if rec := env.do(http.MethodGet, "/api/admin/dashboard?days=-3", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative days status = %d, want 400", rec.Code)
	}
}

func TestLead_AttributesAndNotifies(t *testing.T) {
	env := setupRouter(t, nil)
	seedCall(t, env.db, 190*time.Minute)

	rec := env.do(http.MethodPost, "/api/attribution/leads", `{"name":"Jane","address":"`+uesAddress+`","clientId":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	attr := decode(t, rec)["attribution"].(map[string]any)
	if attr["domain"] != "uesmaid.com" || attr["action"] != "call" || attr["neighborhood"] != "Upper East Side" {
		t.Errorf("attribution = %v", attr)
	}

	rec = env.do(http.MethodGet, "/api/notifications", "")
	list := decode(t, rec)["notifications"].([]any)
	if len(list) != 1 {
		t.Errorf("notifications = %v", list)
	}
}

func TestLead_NoAttributionIsNull(t *testing.T) {
	env := setupRouter(t, nil)

	rec := env.do(http.MethodPost, "/api/attribution/leads", `{"name":"Jane","address":"123 Main St"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	v, ok := body["attribution"]
	if !ok || v != nil {
		t.Errorf("attribution = %v (present %v), want explicit null", v, ok)
	}

	if rec := env.do(http.MethodPost, "/api/attribution/leads", `{"name":"Jane"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing address status = %d, want 400", rec.Code)
	}
}

func TestBooking_WritesBack(t *testing.T) {
	env := setupRouter(t, nil)
	seedCall(t, env.db, 2*time.Hour)

	c := &models.Client{Name: "Jane", Address: uesAddress}
	if err := models.CreateClient(env.db, c); err != nil {
		t.Fatal(err)
	}
	b := &models.Booking{ClientID: c.ID, CreatedAt: time.Now().UTC()}
	if err := models.CreateBooking(env.db, b); err != nil {
		t.Fatal(err)
	}

	rec := env.do(http.MethodPost, "/api/bookings/"+strconv.FormatInt(b.ID, 10)+"/attribution", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["saved"] != true {
		t.Errorf("saved = %v", body["saved"])
	}

	got, err := models.GetBooking(context.Background(), env.db, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AttributedDomain != "uesmaid.com" || got.AttributionConfidence != 100 {
		t.Errorf("booking = %+v", got)
	}

	if rec := env.do(http.MethodPost, "/api/bookings/999/attribution", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing booking status = %d, want 404", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/bookings/abc/attribution", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestCheck_DryRunAsOf(t *testing.T) {
	env := setupRouter(t, nil)
	seedCall(t, env.db, 30*time.Minute)

	at := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	rec := env.do(http.MethodGet, "/api/attribution/check?address=10021&at="+at, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if v := decode(t, rec)["attribution"]; v != nil {
		t.Errorf("call after the check time was attributed: %v", v)
	}

	if rec := env.do(http.MethodGet, "/api/attribution/check?address=10021&at=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad at status = %d, want 400", rec.Code)
	}

	var count int
	env.db.QueryRow("SELECT COUNT(*) FROM notifications").Scan(&count)
	if count != 0 {
		t.Errorf("dry run wrote %d notifications", count)
	}
}

func TestQR(t *testing.T) {
	env := setupRouter(t, nil)

	rec := env.do(http.MethodGet, "/api/qr?domain=www.uesmaid.com&dl=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if code := rec.Header().Get("X-Ref-Code"); !refcode.Valid(code) {
		t.Errorf("generated code %q invalid", code)
	}
	if !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
		t.Error("body is not a PNG")
	}

	rec = env.do(http.MethodGet, "/api/qr?domain=uesmaid.com&ref=abcd2345", "")
	if rec.Header().Get("X-Ref-Code") != "ABCD2345" {
		t.Errorf("ref code = %q, want ABCD2345", rec.Header().Get("X-Ref-Code"))
	}

	if rec := env.do(http.MethodGet, "/api/qr?domain=example.com", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unowned domain status = %d, want 400", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/qr?domain=uesmaid.com&ref=bad", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad ref status = %d, want 400", rec.Code)
	}
}

func TestTrack(t *testing.T) {
	env := setupRouter(t, nil)

	post := func(ua, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(body))
		req.Header.Set("User-Agent", ua)
		req.Header.Set("Content-Type", "text/plain")
		req.RemoteAddr = "198.51.100.3:5123"
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(chromeUA, `{"action":"visit","domain":"uesmaid.com","sessionId":"s1","page":"/","ref":"abcd2345"}`); code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", code)
	}
	if code := post("Googlebot/2.1", `{"action":"visit","domain":"uesmaid.com"}`); code != http.StatusNoContent {
		t.Errorf("bot status = %d, want 204", code)
	}
	if code := post(chromeUA, `not json`); code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", code)
	}
	env.collector.Shutdown()

	events, err := models.ClickEventsPage(context.Background(), env.db, models.EventFilter{}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("stored %d events, want 1", len(events))
	}
	if events[0].VisitorIP != "198.51.100.3" || events[0].RefCode != "ABCD2345" || events[0].Device != models.DeviceDesktop {
		t.Errorf("event = %+v", events[0])
	}
}

func TestTrack_CORSPreflight(t *testing.T) {
	env := setupRouter(t, nil)
	t.Cleanup(env.collector.Shutdown)

	req := httptest.NewRequest(http.MethodOptions, "/t", nil)
	req.Header.Set("Origin", "https://www.uesmaid.com")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://www.uesmaid.com" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/t", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}
