package geo

import (
	"net"
	"strings"

	"github.com/oschwald/maxminddb-golang"

	"github.com/scmmishra/leadtrace/internal/cache"
)

type Result struct {
	Country string
	City    string
	Region  string
}

// String formats the result for display, skipping unknown parts.
func (r Result) String() string {
	var parts []string
	for _, p := range []string{r.City, r.Region, r.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type Reader struct {
	db *maxminddb.Reader
}

// Open opens a MaxMind .mmdb file. Returns nil Reader (no-op) if path is empty.
func Open(path string) (*Reader, error) {
	if path == "" {
		return &Reader{}, nil
	}
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() {
	if r != nil && r.db != nil {
		r.db.Close()
	}
}

// Enabled reports whether a database is loaded.
func (r *Reader) Enabled() bool {
	return r != nil && r.db != nil
}

// Lookup resolves an IP to geo data. Returns empty Result if reader has no db.
func (r *Reader) Lookup(ipStr string) Result {
	if !r.Enabled() {
		return Result{}
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return Result{}
	}

	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
		City struct {
			Names map[string]string `maxminddb:"names"`
		} `maxminddb:"city"`
		Subdivisions []struct {
			Names map[string]string `maxminddb:"names"`
		} `maxminddb:"subdivisions"`
	}
	if err := r.db.Lookup(ip, &record); err != nil {
		return Result{}
	}

	res := Result{
		Country: record.Country.ISOCode,
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		res.Region = record.Subdivisions[0].Names["en"]
	}
	return res
}

// Locator fronts a Reader with an LRU of display strings.
type Locator struct {
	reader *Reader
	cache  *cache.LocationCache
}

func NewLocator(reader *Reader, size int) (*Locator, error) {
	c, err := cache.New(size)
	if err != nil {
		return nil, err
	}
	return &Locator{reader: reader, cache: c}, nil
}

// Locate returns "City, Region, CC" for ip, or "" when unknown.
func (l *Locator) Locate(ip string) string {
	if l == nil || !l.reader.Enabled() {
		return ""
	}
	if loc, ok := l.cache.Get(ip); ok {
		return loc
	}
	loc := l.reader.Lookup(ip).String()
	l.cache.Set(ip, loc)
	return loc
}
