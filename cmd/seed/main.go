package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/scmmishra/leadtrace/internal/db"
	"github.com/scmmishra/leadtrace/internal/models"
	"github.com/scmmishra/leadtrace/internal/refcode"
	"github.com/scmmishra/leadtrace/internal/refdata"
)

type weighted struct {
	value  string
	weight float64
}

var referrers = []weighted{
	{"https://www.google.com/", 40},
	{"", 25}, // direct traffic
	{"https://www.bing.com/", 6},
	{"https://duckduckgo.com/", 4},
	{"https://chatgpt.com/", 3},
	{"https://www.yelp.com/", 6},
	{"https://www.facebook.com/", 5},
	{"https://nextdoor.com/", 4},
	{"https://semalt.com/", 2}, // spam, filtered at read time
}

var devices = []weighted{
	{models.DeviceMobile, 62},
	{models.DeviceDesktop, 33},
	{models.DeviceTablet, 5},
}

var pages = []weighted{
	{"/", 60},
	{"/pricing", 15},
	{"/services", 12},
	{"/book", 10},
	{"/about", 3},
}

var ctas = []weighted{
	{models.ActionCall, 50},
	{models.ActionText, 25},
	{models.ActionBook, 15},
	{models.ActionDirections, 10},
}

var seedClients = []struct {
	name    string
	address string
}{
	{"Dana Whitfield", "245 E 73rd St, New York, NY 10021"},
	{"Marco Reyes", "410 W 57th St, New York, NY 10019"},
	{"Priya Shah", "88 Greenwich St, New York, NY 10006"},
	{"Tom Becker", "31 Prospect Park W, Brooklyn, NY 11215"},
	{"Ana Lopes", "1 Main St, Springfield, IL 62701"},
}

func pick(items []weighted, rng *rand.Rand) string {
	var total float64
	for _, item := range items {
		total += item.weight
	}
	v := rng.Float64() * total
	for _, item := range items {
		v -= item.weight
		if v <= 0 {
			return item.value
		}
	}
	return items[len(items)-1].value
}

func main() {
	dbPath := os.Getenv("LEADTRACE_DB_PATH")
	if dbPath == "" {
		dbPath = "./leadtrace.db"
	}
	refPath := os.Getenv("LEADTRACE_REFDATA_PATH")
	if refPath == "" {
		refPath = "./refdata.example.yaml"
	}

	ref, err := refdata.ReadFile(refPath)
	if err != nil {
		log.Fatalf("refdata: %v", err)
	}
	domains := ref.AllDomains()
	if len(domains) == 0 {
		log.Fatalf("refdata: %s lists no domains", refPath)
	}

	database, err := db.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	rng := rand.New(rand.NewSource(42)) // deterministic seed
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -30)

	fmt.Println("Generating sessions...")

	totalEvents := 0
	var batch []models.ClickEvent
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := models.BatchInsertClickEvents(database, batch); err != nil {
			log.Fatalf("insert events: %v", err)
		}
		totalEvents += len(batch)
		batch = batch[:0]
	}

	for _, domain := range domains {
		for day := start; day.Before(now); day = day.Add(24 * time.Hour) {
			sessions := 5 + rng.Intn(20)
			if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
				sessions /= 2
			}
			for i := 0; i < sessions; i++ {
				// Center around mid-afternoon Eastern
				hour := int(rng.NormFloat64()*3 + 19)
				hour = min(max(hour, 0), 23)
				at := time.Date(day.Year(), day.Month(), day.Day(), hour, rng.Intn(60), rng.Intn(60), 0, time.UTC)
				if at.After(now) {
					continue
				}
				batch = append(batch, session(rng, domain, at)...)
				if len(batch) >= 500 {
					flush()
				}
			}
		}
		fmt.Printf("  %-24s sessions generated\n", domain)
	}
	flush()

	fmt.Println("\nCreating clients and bookings...")
	for i, sc := range seedClients {
		c := models.Client{Name: sc.name, Address: sc.address}
		if err := models.CreateClient(database, &c); err != nil {
			log.Fatalf("create client %q: %v", sc.name, err)
		}
		b := models.Booking{ClientID: c.ID, CreatedAt: now.Add(-time.Duration(i*7) * time.Hour)}
		if err := models.CreateBooking(database, &b); err != nil {
			log.Fatalf("create booking for %q: %v", sc.name, err)
		}
		fmt.Printf("  booking #%d  %s\n", b.ID, sc.name)
	}

	fmt.Printf("\nDone! Inserted %d events across %d domains.\n", totalEvents, len(domains))
	fmt.Printf("Database: %s\n", dbPath)
}

// session produces one visitor's events: a landing visit, some scroll
// and engagement, and sometimes a call to action or a form.
func session(rng *rand.Rand, domain string, at time.Time) []models.ClickEvent {
	base := models.ClickEvent{
		Domain:    domain,
		Referrer:  pick(referrers, rng),
		SessionID: uuid.NewString(),
		VisitorIP: fmt.Sprintf("%d.%d.%d.%d", rng.Intn(223)+1, rng.Intn(256), rng.Intn(256), rng.Intn(254)+1),
		Device:    pick(devices, rng),
	}
	if rng.Float64() < 0.05 {
		code, err := refcode.Generate()
		if err == nil {
			base.RefCode = code
		}
	}

	var out []models.ClickEvent
	add := func(action, page string, offset time.Duration, timeOnPage, scroll int) {
		e := base
		e.Action = action
		e.Page = page
		e.CreatedAt = at.Add(offset)
		e.TimeOnPage = timeOnPage
		e.ScrollDepth = scroll
		out = append(out, e)
	}

	page := pick(pages, rng)
	dwell := rng.Intn(180)
	add(models.ActionVisit, page, 0, 0, 0)
	for i, depth := range []string{models.ActionScroll25, models.ActionScroll50, models.ActionScroll75, models.ActionScroll100} {
		if rng.Float64() > 0.7 {
			break
		}
		add(depth, page, time.Duration(i+1)*5*time.Second, (i+1)*5, (i+1)*25)
	}
	if dwell >= 30 {
		add(models.ActionEngaged30s, page, 30*time.Second, 30, 0)
	}
	if rng.Float64() < 0.35 {
		next := pick(pages, rng)
		add(models.ActionVisit, next, time.Duration(dwell)*time.Second, dwell, 0)
		page = next
	}

	if page == "/book" && rng.Float64() < 0.5 {
		offset := time.Duration(dwell+10) * time.Second
		add(models.ActionFormStart, page, offset, 0, 0)
		steps := []string{"address", "service", "schedule"}
		for i, step := range steps {
			if rng.Float64() < 0.25 {
				e := base
				e.Action, e.Page, e.FormStep = models.ActionFormAbandon, page, step
				e.CreatedAt = at.Add(offset + time.Duration(i+1)*20*time.Second)
				out = append(out, e)
				return out
			}
			e := base
			e.Action, e.Page, e.FormStep = models.ActionFormStep, page, step
			e.CreatedAt = at.Add(offset + time.Duration(i+1)*20*time.Second)
			out = append(out, e)
		}
		add(models.ActionFormSuccess, page, offset+90*time.Second, 0, 0)
		return out
	}

	if rng.Float64() < 0.08 {
		add(pick(ctas, rng), page, time.Duration(dwell+5)*time.Second, dwell, 0)
	}
	return out
}
