package attribution

import (
	"strings"
	"time"

	"github.com/scmmishra/leadtrace/internal/models"
	"github.com/scmmishra/leadtrace/internal/verify"
)

const (
	ActionSearchVisit  = "search_visit"
	ActionEngagedVisit = "engaged_visit"
	ActionVisit        = "visit"
)

const minutesPerDay = 24 * 60

// Decay turns elapsed minutes into a confidence score. It loses ten
// points per whole day and bottoms out at zero on day ten.
func Decay(minutesAgo int) int {
	days := minutesAgo / minutesPerDay
	switch {
	case days <= 0:
		return 100
	case days >= 10:
		return 0
	default:
		return 100 - 10*days
	}
}

// Tier is one rung of the attribution cascade. Rank 1 is the strongest.
type Tier struct {
	Rank     int
	Name     string
	Lookback time.Duration
	// MaxConfidence caps the decayed score; 100 means uncapped.
	MaxConfidence int
	// LocalOnly excludes the generic domains.
	LocalOnly bool
	Match     func(e models.ClickEvent, searchEngines []string) bool
}

// action names the result; the CTA tier reports the click itself.
func (t Tier) action(e models.ClickEvent) string {
	if t.Name == "" {
		return e.Action
	}
	return t.Name
}

func (t Tier) confidence(minutesAgo int) int {
	return min(t.MaxConfidence, Decay(minutesAgo))
}

// Tiers is the cascade in priority order.
var Tiers = []Tier{
	{
		Rank:          1,
		Lookback:      10 * 24 * time.Hour,
		MaxConfidence: 100,
		Match: func(e models.ClickEvent, _ []string) bool {
			return e.Action == models.ActionCall || e.Action == models.ActionText
		},
	},
	{
		Rank:          2,
		Name:          ActionSearchVisit,
		Lookback:      3 * 24 * time.Hour,
		MaxConfidence: 90,
		Match: func(e models.ClickEvent, engines []string) bool {
			return e.Action == models.ActionVisit && IsSearchReferrer(e.Referrer, engines)
		},
	},
	{
		Rank:          3,
		Name:          ActionEngagedVisit,
		Lookback:      3 * 24 * time.Hour,
		MaxConfidence: 80,
		Match: func(e models.ClickEvent, _ []string) bool {
			return e.Action == models.ActionEngaged30s
		},
	},
	{
		Rank:          4,
		Name:          ActionVisit,
		Lookback:      24 * time.Hour,
		MaxConfidence: 50,
		LocalOnly:     true,
		Match: func(e models.ClickEvent, _ []string) bool {
			return e.Action == models.ActionVisit
		},
	},
}

// maxLookback is the widest window any tier reads.
func maxLookback() time.Duration {
	var d time.Duration
	for _, t := range Tiers {
		d = max(d, t.Lookback)
	}
	return d
}

// IsSearchReferrer reports whether the referrer host belongs to one of the
// search engines or AI assistants.
func IsSearchReferrer(referrer string, engines []string) bool {
	host := verify.ReferrerHost(referrer)
	if host == "" {
		return false
	}
	for _, s := range engines {
		if strings.Contains(host, s) {
			return true
		}
	}
	return false
}

// Candidate is the best match a single tier produced.
type Candidate struct {
	Tier       Tier
	Event      models.ClickEvent
	MinutesAgo int
	Confidence int
}

// ByTierOrder reports whether a should win over b. The stronger tier wins
// regardless of confidence; within a tier the more recent click wins.
func ByTierOrder(a, b Candidate) bool {
	if a.Tier.Rank != b.Tier.Rank {
		return a.Tier.Rank < b.Tier.Rank
	}
	return a.MinutesAgo < b.MinutesAgo
}
