// Command loadtest simulates a fleet of self-play workers against a running
// server. Each worker polls for a task, plays nothing, and uploads a
// synthetic record for whatever it was handed, so the scheduler, dispatcher
// and upload paths all see production-shaped traffic.
//
// Usage:
//
//	go run ./test/loadtest -server http://localhost:8080 -workers 32 -duration 1m
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type task struct {
	Cmd         string `json:"cmd"`
	Hash        string `json:"hash"`
	WhiteHash   string `json:"white_hash"`
	BlackHash   string `json:"black_hash"`
	RandomSeed  string `json:"random_seed"`
	OptionsHash string `json:"options_hash"`
}

type stats struct {
	mu        sync.Mutex
	latencies map[string][]int64

	tasks     atomic.Int64
	selfplay  atomic.Int64
	matches   atomic.Int64
	rejected  atomic.Int64
	errors    atomic.Int64
	throttled atomic.Int64
}

func (s *stats) observe(endpoint string, d time.Duration) {
	s.mu.Lock()
	s.latencies[endpoint] = append(s.latencies[endpoint], d.Nanoseconds())
	s.mu.Unlock()
}

type worker struct {
	id            int
	server        string
	clientVersion int
	moves         int
	client        *http.Client
	limiter       *rate.Limiter
	stats         *stats
	logger        *slog.Logger
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Worker API base URL")
	workers := flag.Int("workers", 16, "Number of concurrent simulated workers")
	duration := flag.Duration("duration", 30*time.Second, "How long to run")
	pollRate := flag.Float64("rate", 2, "Maximum task polls per second per worker")
	clientVersion := flag.Int("client-version", 16, "Client version reported by workers")
	moves := flag.Int("moves", 250, "Moves per synthetic game")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *workers <= 0 || *pollRate <= 0 {
		logger.Error("workers and rate must be positive")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithTimeout(ctx, *duration)
	defer cancelRun()

	st := &stats{latencies: make(map[string][]int64)}
	client := &http.Client{Timeout: 30 * time.Second}

	fmt.Println("=== Load Test Configuration ===")
	fmt.Printf("  Server:         %s\n", *server)
	fmt.Printf("  Workers:        %d\n", *workers)
	fmt.Printf("  Duration:       %s\n", *duration)
	fmt.Printf("  Poll rate:      %.1f/s per worker\n", *pollRate)
	fmt.Printf("  Client version: %d\n", *clientVersion)
	fmt.Println()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		w := &worker{
			id:            i,
			server:        *server,
			clientVersion: *clientVersion,
			moves:         *moves,
			client:        client,
			limiter:       rate.NewLimiter(rate.Limit(*pollRate), 1),
			stats:         st,
			logger:        logger.With("worker", i),
		}
		g.Go(func() error { return w.run(gctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("load test aborted", "error", err)
	}

	printReport(st, time.Since(start))

	if st.errors.Load() > 0 {
		os.Exit(1)
	}
}

func (w *worker) run(ctx context.Context) error {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil
		}
		t, err := w.fetchTask(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.stats.errors.Add(1)
			w.logger.Warn("get-task failed", "error", err)
			continue
		}
		if t.Cmd == "" {
			continue
		}
		w.stats.tasks.Add(1)

		switch t.Cmd {
		case "selfplay":
			err = w.submitGame(ctx, t)
			if err == nil {
				w.stats.selfplay.Add(1)
			}
		case "match":
			err = w.submitMatch(ctx, t)
			if err == nil {
				w.stats.matches.Add(1)
			}
		default:
			err = fmt.Errorf("unknown task %q", t.Cmd)
		}
		if err != nil && ctx.Err() == nil {
			w.stats.errors.Add(1)
			w.logger.Warn("submit failed", "cmd", t.Cmd, "error", err)
		}
	}
}

func (w *worker) fetchTask(ctx context.Context) (task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/get-task/%d", w.server, w.clientVersion), nil)
	if err != nil {
		return task{}, err
	}
	body, err := w.do(req, "get-task")
	if err != nil || body == nil {
		return task{}, err
	}
	var t task
	if err := json.Unmarshal(body, &t); err != nil {
		return task{}, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}

func (w *worker) submitGame(ctx context.Context, t task) error {
	winner := "B"
	if rand.IntN(2) == 0 {
		winner = "W"
	}
	fields := map[string]string{
		"networkhash":   t.Hash,
		"clientversion": strconv.Itoa(w.clientVersion),
		"movescount":    strconv.Itoa(w.moves),
		"winnercolor":   winner,
		"options_hash":  t.OptionsHash,
		"random_seed":   t.RandomSeed,
	}
	files := map[string][]byte{
		"sgf":          gzipped(syntheticSGF(w.id, w.moves, winner)),
		"trainingdata": gzipped(syntheticTraining(w.moves)),
	}
	return w.post(ctx, "/submit", "submit", fields, files)
}

func (w *worker) submitMatch(ctx context.Context, t task) error {
	winnerHash, loserHash, color := t.WhiteHash, t.BlackHash, "white"
	if rand.IntN(2) == 0 {
		winnerHash, loserHash, color = t.BlackHash, t.WhiteHash, "black"
	}
	fields := map[string]string{
		"winnerhash":   winnerHash,
		"loserhash":    loserHash,
		"winnercolor":  color,
		"movescount":   strconv.Itoa(w.moves),
		"score":        color[:1] + "+Resign",
		"options_hash": t.OptionsHash,
		"random_seed":  t.RandomSeed,
	}
	files := map[string][]byte{
		"sgf": gzipped(syntheticSGF(w.id, w.moves, color[:1])),
	}
	return w.post(ctx, "/submit-match", "submit-match", fields, files)
}

func (w *worker) post(ctx context.Context, path, endpoint string, fields map[string]string, files map[string][]byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".gz")
		if err != nil {
			return err
		}
		if _, err := fw.Write(data); err != nil {
			return err
		}
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.server+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err = w.do(req, endpoint)
	return err
}

// do executes req and records its latency. Client errors are counted as
// rejections rather than failures: a stale match or an expired network is
// normal churn for a worker fleet.
func (w *worker) do(req *http.Request, endpoint string) ([]byte, error) {
	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	w.stats.observe(endpoint, time.Since(start))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		w.stats.throttled.Add(1)
		return nil, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	case resp.StatusCode >= 400:
		w.stats.rejected.Add(1)
		return nil, nil
	}
	return body, nil
}

func syntheticSGF(worker, moves int, winner string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "(;GM[1]FF[4]SZ[19]KM[7.5]PB[loadtest-%d]PW[loadtest-%d]RE[%s+Resign]", worker, worker, winner)
	for i := 0; i < moves; i++ {
		color := "B"
		if i%2 == 1 {
			color = "W"
		}
		fmt.Fprintf(&b, ";%s[%c%c]", color, 'a'+rand.IntN(19), 'a'+rand.IntN(19))
	}
	b.WriteString(")\n")
	return b.Bytes()
}

// syntheticTraining emits one plausible training chunk per move: 16 input
// planes, side to move, a policy line and the outcome.
func syntheticTraining(moves int) []byte {
	var b bytes.Buffer
	for i := 0; i < moves; i++ {
		for p := 0; p < 16; p++ {
			fmt.Fprintf(&b, "%091x\n", rand.Uint64())
		}
		fmt.Fprintf(&b, "%d\n", i%2)
		for p := 0; p < 362; p++ {
			if p > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(rand.Float64()/362, 'g', 4, 64))
		}
		b.WriteByte('\n')
		if rand.IntN(2) == 0 {
			b.WriteString("1\n")
		} else {
			b.WriteString("-1\n")
		}
	}
	return b.Bytes()
}

func gzipped(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	return buf.Bytes()
}

func printReport(st *stats, elapsed time.Duration) {
	fmt.Println("=== Load Test Results ===")
	fmt.Printf("  Elapsed:          %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Tasks fetched:    %d\n", st.tasks.Load())
	fmt.Printf("  Self-play games:  %d\n", st.selfplay.Load())
	fmt.Printf("  Match games:      %d\n", st.matches.Load())
	fmt.Printf("  Rejected (4xx):   %d\n", st.rejected.Load())
	fmt.Printf("  Throttled (429):  %d\n", st.throttled.Load())
	fmt.Printf("  Errors:           %d\n", st.errors.Load())
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Printf("  Task throughput:  %.1f tasks/sec\n", float64(st.tasks.Load())/secs)
	}
	fmt.Println()

	st.mu.Lock()
	defer st.mu.Unlock()
	endpoints := make([]string, 0, len(st.latencies))
	for name := range st.latencies {
		endpoints = append(endpoints, name)
	}
	sort.Strings(endpoints)

	fmt.Println("=== Latency Percentiles ===")
	for _, name := range endpoints {
		lat := st.latencies[name]
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		fmt.Printf("  %-14s n=%-7d p50=%-10s p95=%-10s p99=%-10s max=%s\n",
			name, len(lat),
			formatNanos(percentile(lat, 50)),
			formatNanos(percentile(lat, 95)),
			formatNanos(percentile(lat, 99)),
			formatNanos(lat[len(lat)-1]),
		)
	}
}

// percentile returns the value at the given percentile from a sorted slice.
func percentile(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// formatNanos formats nanoseconds as a human-readable duration string.
func formatNanos(ns int64) string {
	d := time.Duration(ns)
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fus", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
