// Package report rolls verified click events up into the dashboard
// sections. Aggregate and friends are pure: they never read the store and
// never modify their input.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/scmmishra/leadtrace/internal/models"
	"github.com/scmmishra/leadtrace/internal/neighborhood"
	"github.com/scmmishra/leadtrace/internal/refdata"
	"github.com/scmmishra/leadtrace/internal/verify"
)

const (
	topPagesLimit       = 20
	topFlowsLimit       = 10
	recentVisitorsLimit = 50
	DirectSource        = "direct"
)

type Report struct {
	Period            string            `json:"period"`
	Since             *time.Time        `json:"since"`
	Until             time.Time         `json:"until"`
	Overview          Overview          `json:"overview"`
	TrafficSources    []TrafficSource   `json:"trafficSources"`
	TopPages          []PageStat        `json:"topPages"`
	Devices           []DeviceShare     `json:"devices"`
	Journey           Journey           `json:"journey"`
	HourlyTraffic     []HourBucket      `json:"hourlyTraffic"`
	RecentVisitors    []RecentVisitor   `json:"recentVisitors"`
	FormFunnels       []FunnelStat      `json:"formFunnels"`
	ReturningVisitors ReturningVisitors `json:"returningVisitors"`
}

type Overview struct {
	Visits         int     `json:"visits"`
	UniqueVisitors int     `json:"uniqueVisitors"`
	AvgTimeOnPage  float64 `json:"avgTimeOnPage"`
	AvgScrollDepth float64 `json:"avgScrollDepth"`
	BounceRate     float64 `json:"bounceRate"`
	CTARate        float64 `json:"ctaRate"`
	Calls          int     `json:"calls"`
	Texts          int     `json:"texts"`
	Books          int     `json:"books"`
	Directions     int     `json:"directions"`
}

type TrafficSource struct {
	Source  string  `json:"source"`
	Visits  int     `json:"visits"`
	Percent float64 `json:"percent"`
}

type PageStat struct {
	Page           string  `json:"page"`
	Visits         int     `json:"visits"`
	AvgTimeOnPage  float64 `json:"avgTimeOnPage"`
	AvgScrollDepth float64 `json:"avgScrollDepth"`
}

type DeviceShare struct {
	Device  string  `json:"device"`
	Visits  int     `json:"visits"`
	Percent float64 `json:"percent"`
}

type Flow struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

type Journey struct {
	AvgPagesPerSession float64 `json:"avgPagesPerSession"`
	TopFlows           []Flow  `json:"topFlows"`
}

type HourBucket struct {
	Hour   int `json:"hour"`
	Visits int `json:"visits"`
}

type RecentVisitor struct {
	Time      time.Time `json:"time"`
	Domain    string    `json:"domain"`
	Page      string    `json:"page"`
	Source    string    `json:"source"`
	Device    string    `json:"device"`
	Location  string    `json:"location,omitempty"`
	Returning bool      `json:"returning"`
}

type StepCount struct {
	Step  string `json:"step"`
	Count int    `json:"count"`
}

type FunnelStat struct {
	Page           string      `json:"page"`
	Name           string      `json:"name,omitempty"`
	Starts         int         `json:"starts"`
	StepEvents     int         `json:"stepEvents"`
	Successes      int         `json:"successes"`
	Abandons       int         `json:"abandons"`
	ConversionRate float64     `json:"conversionRate"`
	Steps          []StepCount `json:"steps,omitempty"`
}

type DomainReturning struct {
	Domain    string `json:"domain"`
	Visitors  int    `json:"visitors"`
	Returning int    `json:"returning"`
}

type ReturningVisitors struct {
	Visitors  int               `json:"visitors"`
	Returning int               `json:"returning"`
	ByDomain  []DomainReturning `json:"byDomain"`
}

// Options carries the inputs Aggregate needs besides the events.
type Options struct {
	Funnels []refdata.Funnel
	// Locate resolves a visitor IP to a display location. Optional.
	Locate func(ip string) string
}

// sessionKey scopes session IDs to their domain.
func sessionKey(e models.ClickEvent) string {
	if e.SessionID == "" {
		return ""
	}
	return neighborhood.NormalizeDomain(e.Domain) + "|" + e.SessionID
}

// Source buckets a referrer by host, with empty and "direct" referrers
// grouped as direct.
func Source(referrer string) string {
	if h := verify.ReferrerHost(referrer); h != "" {
		return h
	}
	return DirectSource
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(n) * 100 / float64(total))
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

// mean averages the positive values only; zero means not measured.
type mean struct {
	sum, n int
}

func (m *mean) add(v int) {
	if v > 0 {
		m.sum += v
		m.n++
	}
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return round1(float64(m.sum) / float64(m.n))
}

// Aggregate builds every report section from verified events ordered
// oldest first.
func Aggregate(events []models.ClickEvent, w Window, opts Options) *Report {
	r := &Report{
		Period:   w.Label,
		Until:    w.Until.UTC(),
		Overview: overview(events),
	}
	if !w.Since.IsZero() {
		since := w.Since.UTC()
		r.Since = &since
	}
	returning := returningIPs(events)

	r.TrafficSources = trafficSources(events)
	r.TopPages = topPages(events)
	r.Devices = devices(events)
	r.Journey = journey(events)
	r.HourlyTraffic = hourlyTraffic(events, w)
	r.RecentVisitors = recentVisitors(events, returning, opts.Locate)
	r.FormFunnels = formFunnels(events, opts.Funnels)
	r.ReturningVisitors = returningVisitors(events)
	return r
}

func overview(events []models.ClickEvent) Overview {
	var (
		o            Overview
		timeAvg      mean
		scrollAvg    mean
		visitsPerKey = map[string]int{}
		ctaKeys      = map[string]bool{}
	)
	for _, e := range events {
		switch e.Action {
		case models.ActionVisit:
			o.Visits++
			timeAvg.add(e.EffectiveTime())
			scrollAvg.add(e.EffectiveScroll())
			if k := sessionKey(e); k != "" {
				visitsPerKey[k]++
			}
		case models.ActionCall:
			o.Calls++
		case models.ActionText:
			o.Texts++
		case models.ActionBook:
			o.Books++
		case models.ActionDirections:
			o.Directions++
		}
		switch e.Action {
		case models.ActionCall, models.ActionText, models.ActionBook:
			if k := sessionKey(e); k != "" {
				ctaKeys[k] = true
			}
		}
	}

	o.UniqueVisitors = len(visitsPerKey)
	o.AvgTimeOnPage = timeAvg.value()
	o.AvgScrollDepth = scrollAvg.value()

	var bounced, converted int
	for k, n := range visitsPerKey {
		if n == 1 {
			bounced++
		}
		if ctaKeys[k] {
			converted++
		}
	}
	o.BounceRate = percent(bounced, len(visitsPerKey))
	o.CTARate = percent(converted, len(visitsPerKey))
	return o
}

func trafficSources(events []models.ClickEvent) []TrafficSource {
	counts := map[string]int{}
	total := 0
	for _, e := range events {
		if e.Action != models.ActionVisit {
			continue
		}
		counts[Source(e.Referrer)]++
		total++
	}
	out := make([]TrafficSource, 0, len(counts))
	for s, n := range counts {
		out = append(out, TrafficSource{Source: s, Visits: n, Percent: percent(n, total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Visits != out[j].Visits {
			return out[i].Visits > out[j].Visits
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func topPages(events []models.ClickEvent) []PageStat {
	type acc struct {
		visits       int
		time, scroll mean
	}
	pages := map[string]*acc{}
	for _, e := range events {
		if e.Action != models.ActionVisit {
			continue
		}
		a, ok := pages[e.Page]
		if !ok {
			a = &acc{}
			pages[e.Page] = a
		}
		a.visits++
		a.time.add(e.EffectiveTime())
		a.scroll.add(e.EffectiveScroll())
	}
	out := make([]PageStat, 0, len(pages))
	for p, a := range pages {
		out = append(out, PageStat{Page: p, Visits: a.visits, AvgTimeOnPage: a.time.value(), AvgScrollDepth: a.scroll.value()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Visits != out[j].Visits {
			return out[i].Visits > out[j].Visits
		}
		return out[i].Page < out[j].Page
	})
	if len(out) > topPagesLimit {
		out = out[:topPagesLimit]
	}
	return out
}

func devices(events []models.ClickEvent) []DeviceShare {
	counts := map[string]int{}
	total := 0
	for _, e := range events {
		if e.Action != models.ActionVisit {
			continue
		}
		d := e.Device
		if d != models.DeviceMobile && d != models.DeviceTablet {
			d = models.DeviceDesktop
		}
		counts[d]++
		total++
	}
	out := make([]DeviceShare, 0, 3)
	for _, d := range []string{models.DeviceMobile, models.DeviceDesktop, models.DeviceTablet} {
		out = append(out, DeviceShare{Device: d, Visits: counts[d], Percent: percent(counts[d], total)})
	}
	return out
}

func journey(events []models.ClickEvent) Journey {
	paths := map[string][]string{}
	for _, e := range events {
		if e.Action != models.ActionVisit {
			continue
		}
		if k := sessionKey(e); k != "" {
			paths[k] = append(paths[k], e.Page)
		}
	}

	var j Journey
	if len(paths) == 0 {
		j.TopFlows = []Flow{}
		return j
	}

	type pair struct{ from, to string }
	flows := map[pair]int{}
	pages := 0
	for _, p := range paths {
		pages += len(p)
		for i := 1; i < len(p); i++ {
			// Reloads are not navigation.
			if p[i] == p[i-1] {
				continue
			}
			flows[pair{p[i-1], p[i]}]++
		}
	}
	j.AvgPagesPerSession = round1(float64(pages) / float64(len(paths)))

	j.TopFlows = make([]Flow, 0, len(flows))
	for pr, n := range flows {
		j.TopFlows = append(j.TopFlows, Flow{From: pr.from, To: pr.to, Count: n})
	}
	sort.Slice(j.TopFlows, func(a, b int) bool {
		fa, fb := j.TopFlows[a], j.TopFlows[b]
		if fa.Count != fb.Count {
			return fa.Count > fb.Count
		}
		if fa.From != fb.From {
			return fa.From < fb.From
		}
		return fa.To < fb.To
	})
	if len(j.TopFlows) > topFlowsLimit {
		j.TopFlows = j.TopFlows[:topFlowsLimit]
	}
	return j
}

// hourlyTraffic counts today's visits by local hour.
func hourlyTraffic(events []models.ClickEvent, w Window) []HourBucket {
	loc := w.Loc
	if loc == nil {
		loc = time.UTC
	}
	now := w.Now
	if now.IsZero() {
		now = time.Now()
	}
	today := startOfDay(now, loc)
	tomorrow := today.AddDate(0, 0, 1)

	buckets := make([]HourBucket, 24)
	for h := range buckets {
		buckets[h].Hour = h
	}
	for _, e := range events {
		if e.Action != models.ActionVisit {
			continue
		}
		lt := e.CreatedAt.In(loc)
		if lt.Before(today) || !lt.Before(tomorrow) {
			continue
		}
		buckets[lt.Hour()].Visits++
	}
	return buckets
}

// returningIPs finds IPs seen in more than one session.
func returningIPs(events []models.ClickEvent) map[string]bool {
	sessions := map[string]map[string]bool{}
	for _, e := range events {
		k := sessionKey(e)
		if e.VisitorIP == "" || k == "" {
			continue
		}
		if sessions[e.VisitorIP] == nil {
			sessions[e.VisitorIP] = map[string]bool{}
		}
		sessions[e.VisitorIP][k] = true
	}
	out := map[string]bool{}
	for ip, s := range sessions {
		if len(s) > 1 {
			out[ip] = true
		}
	}
	return out
}

func recentVisitors(events []models.ClickEvent, returning map[string]bool, locate func(string) string) []RecentVisitor {
	out := make([]RecentVisitor, 0, recentVisitorsLimit)
	for i := len(events) - 1; i >= 0 && len(out) < recentVisitorsLimit; i-- {
		e := events[i]
		if e.Action != models.ActionVisit {
			continue
		}
		v := RecentVisitor{
			Time:      e.CreatedAt.UTC(),
			Domain:    neighborhood.NormalizeDomain(e.Domain),
			Page:      e.Page,
			Source:    Source(e.Referrer),
			Device:    e.Device,
			Returning: returning[e.VisitorIP],
		}
		if locate != nil && e.VisitorIP != "" {
			v.Location = locate(e.VisitorIP)
		}
		out = append(out, v)
	}
	return out
}

func formFunnels(events []models.ClickEvent, configured []refdata.Funnel) []FunnelStat {
	stats := map[string]*FunnelStat{}
	stepCounts := map[string]map[string]int{}
	var discovered []string

	get := func(page string) *FunnelStat {
		s, ok := stats[page]
		if !ok {
			s = &FunnelStat{Page: page}
			stats[page] = s
			stepCounts[page] = map[string]int{}
			discovered = append(discovered, page)
		}
		return s
	}

	for _, f := range configured {
		s := get(f.Page)
		s.Name = f.Name
	}
	discovered = discovered[:0]

	for _, e := range events {
		switch e.Action {
		case models.ActionFormStart:
			get(e.Page).Starts++
		case models.ActionFormStep:
			get(e.Page).StepEvents++
			if e.FormStep != "" {
				stepCounts[e.Page][e.FormStep]++
			}
		case models.ActionFormSuccess:
			get(e.Page).Successes++
		case models.ActionFormAbandon:
			get(e.Page).Abandons++
		}
	}

	out := make([]FunnelStat, 0, len(stats))
	emit := func(page string, steps []string) {
		s := stats[page]
		s.ConversionRate = percent(s.Successes, s.Starts)
		counts := stepCounts[page]
		seen := map[string]bool{}
		for _, step := range steps {
			s.Steps = append(s.Steps, StepCount{Step: step, Count: counts[step]})
			seen[step] = true
		}
		var extra []string
		for step := range counts {
			if !seen[step] {
				extra = append(extra, step)
			}
		}
		sort.Strings(extra)
		for _, step := range extra {
			s.Steps = append(s.Steps, StepCount{Step: step, Count: counts[step]})
		}
		out = append(out, *s)
	}

	emitted := map[string]bool{}
	for _, f := range configured {
		if emitted[f.Page] {
			continue
		}
		emitted[f.Page] = true
		emit(f.Page, f.Steps)
	}
	sort.Strings(discovered)
	for _, page := range discovered {
		if !emitted[page] {
			emitted[page] = true
			emit(page, nil)
		}
	}
	return out
}

func returningVisitors(events []models.ClickEvent) ReturningVisitors {
	rv := ReturningVisitors{ByDomain: []DomainReturning{}}

	global := returningIPs(events)
	rv.Returning = len(global)
	rv.Visitors = countIPs(events)

	byDomain := map[string][]models.ClickEvent{}
	for _, e := range events {
		d := neighborhood.NormalizeDomain(e.Domain)
		byDomain[d] = append(byDomain[d], e)
	}
	for d, evs := range byDomain {
		visitors := countIPs(evs)
		if visitors == 0 {
			continue
		}
		rv.ByDomain = append(rv.ByDomain, DomainReturning{Domain: d, Visitors: visitors, Returning: len(returningIPs(evs))})
	}
	sort.Slice(rv.ByDomain, func(i, j int) bool {
		a, b := rv.ByDomain[i], rv.ByDomain[j]
		if a.Returning != b.Returning {
			return a.Returning > b.Returning
		}
		return a.Domain < b.Domain
	})
	return rv
}

func countIPs(events []models.ClickEvent) int {
	ips := map[string]bool{}
	for _, e := range events {
		if e.VisitorIP != "" {
			ips[e.VisitorIP] = true
		}
	}
	return len(ips)
}
