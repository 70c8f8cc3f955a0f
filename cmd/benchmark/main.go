package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/punchamoorthee/bankops/internal/models"
)

var (
	targetURL     string
	concurrency   int
	duration      time.Duration
	workload      string
	totalAccounts int
	amount        string
	retryRatio    float64
)

var (
	totalRequests uint64
	success201    uint64
	replay        uint64 // served from a stored idempotent response
	rejected422   uint64 // insufficient funds, blocked account
	fail409       uint64
	partial502    uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&totalAccounts, "accounts", 1000, "Number of seeded demo accounts")
	flag.StringVar(&amount, "amount", "1.00", "Amount moved by each transfer")
	flag.Float64Var(&retryRatio, "retries", 0.05, "Share of requests resent with the previous Idempotency-Key")
}

func main() {
	flag.Parse()
	if _, err := decimal.NewFromString(amount); err != nil {
		log.Fatalf("invalid amount %q: %v", amount, err)
	}
	log.Infof("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	var lastKey string
	var lastBody []byte
	for time.Since(start) < duration {
		key, body := lastKey, lastBody
		if key == "" || rand.Float64() >= retryRatio {
			from, to := generateAccounts()
			body, _ = json.Marshal(models.TransferRequest{
				SourceAccount:      from,
				DestinationAccount: to,
				Amount:             decimal.RequireFromString(amount),
				Reason:             "benchmark",
			})
			key = "bench-" + uuid.NewString()
		}
		lastKey, lastBody = key, body

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/transfers", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.Header.Get("Idempotent-Replay") == "true":
			atomic.AddUint64(&replay, 1)
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case resp.StatusCode == http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected422, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case resp.StatusCode == http.StatusBadGateway:
			atomic.AddUint64(&partial502, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func accountNumber(i int) string {
	return fmt.Sprintf("DEMO-%06d", i)
}

func generateAccounts() (string, string) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to the first two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return accountNumber(1), accountNumber(2)
			}
			return accountNumber(2), accountNumber(1)
		}
	}

	a := rand.Intn(totalAccounts) + 1
	b := rand.Intn(totalAccounts) + 1
	for a == b {
		b = rand.Intn(totalAccounts) + 1
	}
	return accountNumber(a), accountNumber(b)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	created := atomic.LoadUint64(&success201)
	replays := atomic.LoadUint64(&replay)
	rejected := atomic.LoadUint64(&rejected422)
	conflicts := atomic.LoadUint64(&fail409)
	partial := atomic.LoadUint64(&partial502)
	fErr := atomic.LoadUint64(&failOther)

	var conflictRate float64
	if total > 0 {
		conflictRate = float64(conflicts) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    float64(total) / d.Seconds(),
		"success_created":   created,
		"success_replay":    replays,
		"rejected":          rejected,
		"conflicts":         conflicts,
		"conflict_rate_pct": conflictRate,
		"partially_applied": partial,
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.WithError(err).Warn("unable to save results")
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
