package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/scmmishra/leadtrace/internal/models"
)

const benchRefData = `
neighborhoods:
  "10021": Upper East Side
neighborhood_domains:
  Upper East Side: [uesmaid.com]
generic_domains: [nycmaid.com]
spam_referrers: [semalt]
`

var (
	benchDomains   = []string{"uesmaid.com", "nycmaid.com"}
	benchActions   = []string{models.ActionVisit, models.ActionVisit, models.ActionScroll50, models.ActionEngaged30s, models.ActionCall}
	benchReferrers = []string{"", "https://www.google.com/", "https://www.yelp.com/"}
)

// run collects latencies for one phase.
type run struct {
	mu        sync.Mutex
	latencies []time.Duration
	errors    int64
	requests  atomic.Int64
}

func (r *run) merge(lats []time.Duration, errs int64) {
	r.mu.Lock()
	r.latencies = append(r.latencies, lats...)
	r.errors += errs
	r.mu.Unlock()
}

func main() {
	concurrency := flag.Int("c", 50, "number of concurrent workers")
	duration := flag.Duration("d", 10*time.Second, "ingest benchmark duration")
	reports := flag.Int("reports", 20, "number of report requests after ingest")
	flag.Parse()

	fmt.Println("leadtrace Beacon Benchmark")
	fmt.Println("==========================")

	fmt.Printf("Building server...     ")
	tmpDir, err := os.MkdirTemp("", "leadtrace-bench-*")
	if err != nil {
		fatal("create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	binPath := filepath.Join(tmpDir, "leadtrace-server")
	build := exec.Command("go", "build", "-o", binPath, "./cmd/server")
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		fatal("build server: %v", err)
	}
	fmt.Println("done")

	refPath := filepath.Join(tmpDir, "refdata.yaml")
	if err := os.WriteFile(refPath, []byte(benchRefData), 0o644); err != nil {
		fatal("write refdata: %v", err)
	}

	fmt.Printf("Starting server...     ")
	port, err := freePort()
	if err != nil {
		fatal("find free port: %v", err)
	}

	srv := exec.Command(binPath)
	srvLog, err := os.Create(filepath.Join(tmpDir, "server.log"))
	if err != nil {
		fatal("create server log: %v", err)
	}
	defer srvLog.Close()
	srv.Stdout = srvLog
	srv.Stderr = srvLog
	srv.Env = append(os.Environ(),
		"LEADTRACE_PASSWORD=bench",
		fmt.Sprintf("LEADTRACE_PORT=%d", port),
		fmt.Sprintf("LEADTRACE_DB_PATH=%s", filepath.Join(tmpDir, "leadtrace.db")),
		fmt.Sprintf("LEADTRACE_REFDATA_PATH=%s", refPath),
		"LEADTRACE_FLUSH_INTERVAL=1s",
		"LEADTRACE_BUFFER_SIZE=500000",
	)
	if err := srv.Start(); err != nil {
		fatal("start server: %v", err)
	}
	defer func() {
		srv.Process.Signal(syscall.SIGINT)
		srv.Wait()
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitReady(baseURL+"/metrics", 5*time.Second); err != nil {
		fatal("server not ready: %v", err)
	}
	fmt.Printf("ready (port %d)\n", port)

	client := &http.Client{
		Transport: &http.Transport{MaxIdleConnsPerHost: *concurrency},
	}

	fmt.Printf("Ingesting beacons...   %s, %d workers\n", *duration, *concurrency)
	ingest := ingestPhase(client, baseURL, *concurrency, *duration)
	printResults("Beacon ingest", ingest, duration.Seconds())

	// Let the collector flush before reading.
	time.Sleep(2 * time.Second)

	fmt.Printf("\nBuilding reports...    %d requests\n", *reports)
	rep := reportPhase(client, baseURL, *reports)
	printResults("Report (period=all)", rep, 0)
}

func ingestPhase(client *http.Client, baseURL string, workers int, d time.Duration) *run {
	rng := rand.New(rand.NewSource(42))
	seeds := make([]int64, workers)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	res := &run{}
	start := time.Now()
	deadline := start.Add(d)
	var wg sync.WaitGroup

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		total := d.Seconds()
		for {
			select {
			case <-done:
				printProgress(total, total, res.requests.Load())
				fmt.Println()
				return
			case <-ticker.C:
				printProgress(min(time.Since(start).Seconds(), total), total, res.requests.Load())
			}
		}
	}()

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := rand.New(rand.NewSource(seeds[i]))
			var lats []time.Duration
			var errs int64

			for time.Now().Before(deadline) {
				body, _ := json.Marshal(map[string]any{
					"action":    benchActions[local.Intn(len(benchActions))],
					"domain":    benchDomains[local.Intn(len(benchDomains))],
					"referrer":  benchReferrers[local.Intn(len(benchReferrers))],
					"sessionId": fmt.Sprintf("bench-%d-%d", i, local.Intn(500)),
					"page":      "/",
				})
				req, _ := http.NewRequest(http.MethodPost, baseURL+"/t", bytes.NewReader(body))
				req.Header.Set("Content-Type", "text/plain")
				req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148 Safari/604.1")
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", local.Intn(254)+1))

				t0 := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(t0)
				res.requests.Add(1)

				if err != nil {
					errs++
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode != http.StatusNoContent {
					errs++
					continue
				}
				lats = append(lats, elapsed)
			}
			res.merge(lats, errs)
		}()
	}

	wg.Wait()
	close(done)
	time.Sleep(10 * time.Millisecond) // let progress goroutine print final line
	return res
}

func reportPhase(client *http.Client, baseURL string, n int) *run {
	res := &run{}
	for range n {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/analytics?period=all", nil)
		req.Header.Set("X-API-Key", "bench")
		t0 := time.Now()
		resp, err := client.Do(req)
		elapsed := time.Since(t0)
		res.requests.Add(1)
		if err != nil {
			res.merge(nil, 1)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			res.merge(nil, 1)
			continue
		}
		res.merge([]time.Duration{elapsed}, 0)
	}
	return res
}

// printResults prints counts and percentiles. rps is skipped when seconds is 0.
func printResults(title string, r *run, seconds float64) {
	total := int64(len(r.latencies)) + r.errors
	slices.Sort(r.latencies)

	fmt.Println("")
	fmt.Println(title)
	fmt.Println("-------")
	fmt.Printf("Requests:    %s\n", commaFmt(total))
	fmt.Printf("Errors:      %d\n", r.errors)
	if seconds > 0 {
		fmt.Printf("RPS:         %.1f\n", float64(total)/seconds)
	}
	if len(r.latencies) > 0 {
		fmt.Printf("Latency p50: %s\n", fmtDur(percentile(r.latencies, 50)))
		fmt.Printf("Latency p95: %s\n", fmtDur(percentile(r.latencies, 95)))
		fmt.Printf("Latency p99: %s\n", fmtDur(percentile(r.latencies, 99)))
	}
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func waitReady(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for time.Now().Before(deadline) {
		if resp, err := client.Get(url); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timeout after %s", timeout)
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[min(len(sorted)*p/100, len(sorted)-1)]
}

func printProgress(elapsed, total float64, reqs int64) {
	const barWidth = 30
	filled := int(min(elapsed/total, 1) * barWidth)
	bar := bytes.Repeat([]byte{'-'}, barWidth)
	for i := range filled {
		bar[i] = '#'
	}
	rps := float64(0)
	if elapsed > 0 {
		rps = float64(reqs) / elapsed
	}
	fmt.Printf("\r  [%s] %.0fs/%.0fs  %s reqs  %.0f rps", bar, elapsed, total, commaFmt(reqs), rps)
}

func fmtDur(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
}

func commaFmt(n int64) string {
	s := fmt.Sprintf("%d", n)
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
