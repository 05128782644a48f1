// Package datacenter flags tracking beacons sent from hosting providers,
// Tor exits and known abusive IPs. Real prospects browse from residential
// and mobile networks, so these hits are dropped before they reach the
// event log.
package datacenter

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"
)

const (
	DefaultRefreshInterval = 24 * time.Hour
	fetchTimeout           = 30 * time.Second
)

// Format tells the checker how to read a source.
type Format int

const (
	// FormatCIDRText is one CIDR per line.
	FormatCIDRText Format = iota
	// FormatOCIJSON is Oracle Cloud's public_ip_ranges.json.
	FormatOCIJSON
	// FormatCSV takes the CIDR from the first column.
	FormatCSV
	// FormatIPText is one IP per line.
	FormatIPText
	// FormatIPScore is "ip<whitespace>score" per line.
	FormatIPScore
)

// Source is one blocklist. Static sources carry their CIDRs inline.
type Source struct {
	Name   string
	URL    string
	Format Format
	Static []string
}

var DefaultSources = []Source{
	{Name: "datacenters", URL: "https://raw.githubusercontent.com/jhassine/server-ip-addresses/master/data/datacenters.txt", Format: FormatCIDRText},
	{Name: "oci", URL: "https://docs.cloud.oracle.com/en-us/iaas/tools/public_ip_ranges.json", Format: FormatOCIJSON},
	{Name: "digitalocean", URL: "https://www.digitalocean.com/geo/google.csv", Format: FormatCSV},
	{Name: "vultr", URL: "https://geofeed.constant.com/?text", Format: FormatCIDRText},
	{Name: "akamai", Static: []string{
		"23.32.0.0/11", "23.192.0.0/11", "2.16.0.0/13", "104.64.0.0/10",
		"184.24.0.0/13", "23.0.0.0/12", "95.100.0.0/15", "92.122.0.0/15",
		"184.50.0.0/15", "88.221.0.0/16", "23.64.0.0/14", "72.246.0.0/15",
		"96.16.0.0/15", "96.6.0.0/15", "69.192.0.0/16", "23.72.0.0/13",
		"173.222.0.0/15", "118.214.0.0/16", "184.84.0.0/14",
	}},
	{Name: "scaleway", Static: []string{
		"62.210.0.0/16", "195.154.0.0/16", "212.129.0.0/18", "62.4.0.0/19",
		"212.83.128.0/19", "212.83.160.0/19", "212.47.224.0/19", "163.172.0.0/16",
		"51.15.0.0/16", "151.115.0.0/16", "51.158.0.0/15",
	}},
	{Name: "tor", URL: "https://check.torproject.org/torbulkexitlist", Format: FormatIPText},
	{Name: "ipsum", URL: "https://raw.githubusercontent.com/stamparm/ipsum/master/ipsum.txt", Format: FormatIPScore},
	{Name: "greensnow", URL: "https://blocklist.greensnow.co/greensnow.txt", Format: FormatIPText},
}

// Checker holds the merged blocklists. Lookups are safe for concurrent use.
type Checker struct {
	sources []Source
	client  *http.Client

	mu       sync.RWMutex
	prefixes []netip.Prefix
	addrs    map[netip.Addr]bool

	stop chan struct{}
	done chan struct{}
}

func newChecker(sources []Source) *Checker {
	return &Checker{
		sources: sources,
		client:  &http.Client{Timeout: fetchTimeout},
		addrs:   make(map[netip.Addr]bool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// NewChecker loads sources immediately in the background and reloads them
// every interval until Shutdown.
func NewChecker(sources []Source, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	c := newChecker(sources)
	go c.run(interval)
	return c
}

// IsBlocked reports whether ip is on any loaded list. Unparseable input is
// never blocked.
func (c *Checker) IsBlocked(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.addrs[addr] {
		return true
	}
	for _, p := range c.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Size returns how many ranges and single addresses are loaded.
func (c *Checker) Size() (ranges, addrs int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prefixes), len(c.addrs)
}

// Shutdown stops the background refresh and waits for it to finish.
func (c *Checker) Shutdown() {
	close(c.stop)
	<-c.done
}

func (c *Checker) run(interval time.Duration) {
	defer close(c.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Refresh(ctx)
		case <-c.stop:
			return
		}
	}
}

// Refresh fetches every source concurrently. A source that fails keeps
// nothing from this round; if every source of a kind fails, the previous
// lists stay in place.
func (c *Checker) Refresh(ctx context.Context) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		prefixes []netip.Prefix
		addrs    = make(map[netip.Addr]bool)
	)

	for _, src := range c.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			p, a, err := c.load(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			}
			prefixes = append(prefixes, p...)
			for _, ip := range a {
				addrs[ip] = true
			}
		}(src)
	}
	wg.Wait()

	if len(errs) > 0 {
		log.Printf("datacenter: partial refresh: %v", errors.Join(errs...))
	}

	c.mu.Lock()
	if len(prefixes) > 0 {
		c.prefixes = prefixes
	}
	if len(addrs) > 0 {
		c.addrs = addrs
	}
	c.mu.Unlock()

	log.Printf("datacenter: loaded %d ranges, %d addresses", len(prefixes), len(addrs))
}

func (c *Checker) load(ctx context.Context, src Source) ([]netip.Prefix, []netip.Addr, error) {
	if src.URL == "" {
		p, err := parsePrefixes(strings.NewReader(strings.Join(src.Static, "\n")))
		return p, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	switch src.Format {
	case FormatOCIJSON:
		p, err := parseOCI(resp.Body)
		return p, nil, err
	case FormatCSV:
		p, err := parseCSVPrefixes(resp.Body)
		return p, nil, err
	case FormatIPText, FormatIPScore:
		a, err := parseAddrs(resp.Body)
		return nil, a, err
	default:
		p, err := parsePrefixes(resp.Body)
		return p, nil, err
	}
}

// eachLine calls fn with every non-blank, non-comment line.
func eachLine(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(line)
	}
	return scanner.Err()
}

func parsePrefixes(r io.Reader) ([]netip.Prefix, error) {
	var out []netip.Prefix
	err := eachLine(r, func(line string) {
		if p, err := netip.ParsePrefix(line); err == nil {
			out = append(out, p.Masked())
		}
	})
	return out, err
}

// parseAddrs reads the first field of each line, so it handles both plain
// lists and the "ip score" format.
func parseAddrs(r io.Reader) ([]netip.Addr, error) {
	var out []netip.Addr
	err := eachLine(r, func(line string) {
		if a, err := netip.ParseAddr(strings.Fields(line)[0]); err == nil {
			out = append(out, a.Unmap())
		}
	})
	return out, err
}

func parseOCI(r io.Reader) ([]netip.Prefix, error) {
	var data struct {
		Regions []struct {
			Cidrs []struct {
				Cidr string `json:"cidr"`
			} `json:"cidrs"`
		} `json:"regions"`
	}
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, err
	}
	var lines []string
	for _, region := range data.Regions {
		for _, c := range region.Cidrs {
			lines = append(lines, c.Cidr)
		}
	}
	return parsePrefixes(strings.NewReader(strings.Join(lines, "\n")))
}

func parseCSVPrefixes(r io.Reader) ([]netip.Prefix, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	var lines []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) > 0 {
			lines = append(lines, record[0])
		}
	}
	return parsePrefixes(strings.NewReader(strings.Join(lines, "\n")))
}
