package attribution

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/scmmishra/leadtrace/internal/models"
)

type recordingNotifier struct {
	kinds    []string
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, kind, message string) error {
	n.kinds = append(n.kinds, kind)
	n.messages = append(n.messages, message)
	return n.err
}

func testService(t *testing.T, d *sql.DB, n Notifier, overwrite bool) *Service {
	t.Helper()
	s := NewService(d, testResolver(t, d), n, overwrite)
	s.now = func() time.Time { return asOf.Add(time.Minute) }
	return s
}

func createBooking(t *testing.T, d *sql.DB, address string) (clientID, bookingID int64) {
	t.Helper()
	c := &models.Client{Name: "Jane Doe", Address: address}
	if err := models.CreateClient(d, c); err != nil {
		t.Fatal(err)
	}
	b := &models.Booking{ClientID: c.ID, CreatedAt: asOf}
	if err := models.CreateBooking(d, b); err != nil {
		t.Fatal(err)
	}
	return c.ID, b.ID
}

func TestAutoAttributeBooking_WritesBack(t *testing.T) {
	d := testDB(t)
	insertEvents(t, d, ev(models.ActionCall, "uesmaid.com", google, "s1", 190*time.Minute))
	clientID, bookingID := createBooking(t, d, uesAddress)
	n := &recordingNotifier{}

	res, err := testService(t, d, n, false).AutoAttributeBooking(context.Background(), bookingID, clientID, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Domain != "uesmaid.com" || res.Confidence != 100 {
		t.Fatalf("result = %+v", res)
	}

	b, err := models.GetBooking(context.Background(), d, bookingID)
	if err != nil {
		t.Fatal(err)
	}
	if b.AttributedDomain != "uesmaid.com" || b.AttributionConfidence != 100 || b.AttributedAt == nil {
		t.Errorf("booking = %+v", b)
	}

	if len(n.kinds) != 1 || n.kinds[0] != KindBooking {
		t.Fatalf("notifications = %v", n.kinds)
	}
	if !strings.Contains(n.messages[0], "uesmaid.com") {
		t.Errorf("message = %q", n.messages[0])
	}
}

func TestAutoAttributeBooking_IdempotentByDefault(t *testing.T) {
	d := testDB(t)
	insertEvents(t, d, ev(models.ActionCall, "uesmaid.com", google, "s1", 3*24*time.Hour))
	clientID, bookingID := createBooking(t, d, uesAddress)
	s := testService(t, d, &recordingNotifier{}, false)

	first, err := s.AutoAttributeBooking(context.Background(), bookingID, clientID, asOf)
	if err != nil {
		t.Fatal(err)
	}

	insertEvents(t, d, ev(models.ActionCall, "uesmaid.com", google, "s2", time.Hour))
	second, err := s.AutoAttributeBooking(context.Background(), bookingID, clientID, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if second == nil {
		t.Fatal("stored result not returned")
	}
	if second.Domain != first.Domain || second.Confidence != first.Confidence || second.Action != first.Action ||
		second.MinutesAgo != first.MinutesAgo || second.Neighborhood != first.Neighborhood ||
		second.SourceClickID != first.SourceClickID || !second.ClickedAt.Equal(first.ClickedAt) {
		t.Errorf("stored result = %+v, want the full first result %+v", second, first)
	}
	if first.Action != models.ActionCall || first.MinutesAgo != 3*24*60 || first.Neighborhood != "Upper East Side" || first.SourceClickID == 0 {
		t.Errorf("first = %+v", first)
	}
}

func TestAutoAttributeBooking_OverwriteRescores(t *testing.T) {
	d := testDB(t)
	insertEvents(t, d, ev(models.ActionCall, "uesmaid.com", google, "s1", 3*24*time.Hour))
	clientID, bookingID := createBooking(t, d, uesAddress)
	s := testService(t, d, &recordingNotifier{}, true)

	if _, err := s.AutoAttributeBooking(context.Background(), bookingID, clientID, asOf); err != nil {
		t.Fatal(err)
	}
	insertEvents(t, d, ev(models.ActionCall, "uesmaid.com", google, "s2", time.Hour))
	res, err := s.AutoAttributeBooking(context.Background(), bookingID, clientID, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Confidence != 100 {
		t.Errorf("result = %+v, want rescored at 100", res)
	}
	b, _ := models.GetBooking(context.Background(), d, bookingID)
	if b.AttributionConfidence != 100 {
		t.Errorf("stored confidence = %d, want 100", b.AttributionConfidence)
	}
}

func TestAutoAttributeBooking_NoAttributionIsRecorded(t *testing.T) {
	d := testDB(t)
	clientID, bookingID := createBooking(t, d, "123 Main St")
	n := &recordingNotifier{}

	res, err := testService(t, d, n, false).AutoAttributeBooking(context.Background(), bookingID, clientID, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	b, _ := models.GetBooking(context.Background(), d, bookingID)
	if b.AttributedAt == nil || b.AttributedDomain != "" {
		t.Errorf("booking = %+v, want scored with no domain", b)
	}
	if len(n.messages) != 1 || !strings.Contains(n.messages[0], "no attribution") {
		t.Errorf("messages = %v", n.messages)
	}
}

func TestAutoAttributeBooking_MissingBooking(t *testing.T) {
	d := testDB(t)
	_, err := testService(t, d, nil, false).AutoAttributeBooking(context.Background(), 404, 1, asOf)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestAutoAttributeBooking_WriteBackFailureStillReturnsResult(t *testing.T) {
	events := testDB(t)
	insertEvents(t, events, ev(models.ActionCall, "uesmaid.com", google, "s1", 190*time.Minute))

	bookings, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer bookings.Close()

	mock.ExpectQuery("SELECT id, client_id, created_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "created_at", "attributed_domain", "attribution_confidence", "attributed_at",
			"attribution_action", "attribution_minutes_ago", "attribution_neighborhood", "attribution_click_id", "attribution_clicked_at"}).
			AddRow(7, 3, asOf, nil, nil, nil, nil, nil, nil, nil, nil))
	mock.ExpectQuery("SELECT address FROM clients").
		WillReturnRows(sqlmock.NewRows([]string{"address"}).AddRow(uesAddress))
	mock.ExpectExec("UPDATE bookings").WillReturnError(errors.New("disk I/O error"))

	n := &recordingNotifier{}
	s := NewService(bookings, testResolver(t, events), n, false)

	res, err := s.AutoAttributeBooking(context.Background(), 7, 3, asOf)
	if !errors.Is(err, ErrWriteBack) {
		t.Fatalf("err = %v, want ErrWriteBack", err)
	}
	if res == nil || res.Domain != "uesmaid.com" {
		t.Errorf("result = %+v, want computed attribution", res)
	}
	if len(n.kinds) != 1 || n.kinds[0] != KindWriteBackErr {
		t.Errorf("notifications = %v", n.kinds)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAttributeCollectForm(t *testing.T) {
	d := testDB(t)
	insertEvents(t, d, ev(models.ActionText, "uesmaid.com", google, "s1", 45*time.Minute))
	n := &recordingNotifier{err: errors.New("notification table locked")}
	s := testService(t, d, n, false)

	res, err := s.AttributeCollectForm(context.Background(), "Jane Doe", uesAddress, 12)
	if err != nil {
		t.Fatalf("notification failure leaked: %v", err)
	}
	if res == nil || res.Action != "text" || res.MinutesAgo != 46 {
		t.Errorf("result = %+v", res)
	}
	if len(n.kinds) != 1 || n.kinds[0] != KindLead || !strings.Contains(n.messages[0], "Jane Doe") {
		t.Errorf("notifications = %v %v", n.kinds, n.messages)
	}
}

func TestDBNotifier(t *testing.T) {
	d := testDB(t)
	if err := (DBNotifier{DB: d}).Notify(context.Background(), KindLead, "hello"); err != nil {
		t.Fatal(err)
	}
	got, err := models.RecentNotifications(context.Background(), d, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Kind != KindLead || got[0].Message != "hello" {
		t.Errorf("notifications = %+v", got)
	}
}
