package analytics

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/scmmishra/leadtrace/internal/models"
)

// Substrings matched case-insensitively against the User-Agent.
var botSignatures = []string{
	// Generic patterns
	"bot",
	"spider",
	"crawl",

	// Link-preview / unfurler bots
	"facebookexternalhit",
	"facebot",
	"whatsapp",
	"slackbot",
	"telegrambot",
	"applebot",
	"twitterbot",
	"linkedinbot",
	"preview",

	// Google
	"google web preview",
	"google favicon",
	"google-ad",
	"google-site-verification",
	"googlesecurityscanner",
	"google-inspectiontool",
	"chrome-lighthouse",

	// SEO tools that crawl exact-match domains
	"ahrefs",
	"semrush",
	"mj12",
	"dotbot",
	"screaming frog",

	// Security / scanning
	"burpcollaborator.net/",
	"zgrab/",
	"netcraftsurveyagent/",
	"censysinspect",

	// HTTP client libraries (not real browsers)
	"go-http-client/",
	"curl/",
	"wget/",
	"python-requests/",
	"python-urllib/",
	"aiohttp/",
	"java/",
	"libwww-perl/",
	"okhttp/",
	"axios/",
	"node-fetch",

	// Headless / renderers
	"headlesschrome/",
	"phantomjs",
	"puppeteer",
	"playwright",
	"selenium",
	"wkhtmltopdf",
}

// IsBot returns true if the user-agent looks like a bot, a headless browser
// or a scripted HTTP client. An empty user-agent counts as a bot.
func IsBot(rawUA string) bool {
	if strings.TrimSpace(rawUA) == "" {
		return true
	}
	ua := useragent.New(rawUA)
	if ua.Bot() {
		return true
	}
	lower := strings.ToLower(rawUA)
	for _, sig := range botSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// DeviceFromUA classifies a browser user-agent. Tablets are checked
// first because iPad and many Android tablet UAs also claim "Mobile".
func DeviceFromUA(rawUA string) string {
	if rawUA == "" {
		return models.DeviceUnknown
	}
	lower := strings.ToLower(rawUA)
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")) {
		return models.DeviceTablet
	}
	if useragent.New(rawUA).Mobile() {
		return models.DeviceMobile
	}
	return models.DeviceDesktop
}
