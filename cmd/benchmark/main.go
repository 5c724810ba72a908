// Benchmark tool for load-testing Kestrel's prediction endpoint.
//
// Usage:
//
//	go run cmd/benchmark/main.go -url http://localhost:5001 -n 10000 -workers 10
//
// This tool:
//  1. Generates synthetic transactions (a mix of ordinary and suspicious)
//  2. Sends each to POST /predict with concurrent workers
//  3. Reports latency percentiles, throughput, and the flag rate
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PredictResponse mirrors the Kestrel API response format.
type PredictResponse struct {
	FraudRiskScore float64  `json:"fraud_risk_score"`
	IsFlagged      bool     `json:"is_flagged"`
	Reasons        []string `json:"reasons"`
	AnomalyScore   float64  `json:"anomaly_score"`
}

type metrics struct {
	mu        sync.Mutex
	latencies []time.Duration

	total   atomic.Int64
	flagged atomic.Int64
	errors  atomic.Int64
}

func (m *metrics) record(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

var (
	paymentMethods   = []string{"credit_card", "debit_card", "paypal", "bank_transfer", "other"}
	transactionTypes = []string{"purchase", "withdrawal", "transfer", "refund"}
	locations        = []string{"US", "GB", "DE", "FR", "JP", "BR", "IN", "AU", "CA", "NG"}
)

func main() {
	baseURL := flag.String("url", "http://localhost:5001", "Kestrel base URL")
	count := flag.Int("n", 10000, "Total requests to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	suspicious := flag.Float64("suspicious", 0.1, "Fraction of suspicious transactions (0.0-1.0)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for transaction generation")
	verbose := flag.Bool("verbose", false, "Print each flagged result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           KESTREL BENCHMARK - Prediction Throughput           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL:  %s\n", *baseURL)
	fmt.Printf("Requests:     %d\n", *count)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Suspicious:   %.2f\n", *suspicious)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	transactions := generateTransactions(*count, *suspicious, *seed)
	fmt.Printf("✓ Generated %d transactions\n", len(transactions))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	m := &metrics{}
	start := time.Now()
	runBenchmark(transactions, *baseURL, *workers, *verbose, m)
	duration := time.Since(start)

	printResults(m, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var health struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"model_loaded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return err
	}
	if !health.ModelLoaded {
		return fmt.Errorf("model not loaded")
	}
	return nil
}

// generateTransactions builds the workload. Ordinary transactions mimic
// the lognormal amount distribution the model trains on; suspicious ones
// use inflated amounts at odd hours.
func generateTransactions(count int, suspicious float64, seed int64) []map[string]any {
	rng := rand.New(rand.NewSource(seed))
	unusualHours := []int{0, 1, 2, 3, 22, 23}

	transactions := make([]map[string]any, 0, count)
	for i := 0; i < count; i++ {
		tx := map[string]any{
			"amount":           math.Round(math.Exp(5+rng.NormFloat64())*100) / 100,
			"hour_of_day":      rng.Intn(24),
			"day_of_week":      rng.Intn(7),
			"payment_method":   paymentMethods[rng.Intn(len(paymentMethods))],
			"transaction_type": transactionTypes[rng.Intn(len(transactionTypes))],
			"location_country": locations[rng.Intn(len(locations))],
		}

		if rng.Float64() < suspicious {
			tx["amount"] = tx["amount"].(float64) * (5 + 15*rng.Float64())
			tx["hour_of_day"] = unusualHours[rng.Intn(len(unusualHours))]
		}

		transactions = append(transactions, tx)
	}
	return transactions
}

func runBenchmark(transactions []map[string]any, baseURL string, numWorkers int, verbose bool, m *metrics) {
	work := make(chan map[string]any, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := predict(client, baseURL, tx)
				elapsed := time.Since(start)

				m.total.Add(1)
				m.record(elapsed)

				if err != nil {
					m.errors.Add(1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				if result.IsFlagged {
					m.flagged.Add(1)
					if verbose {
						fmt.Printf("FLAGGED | amount: $%10.2f | score: %6.2f | reasons: %v\n",
							tx["amount"], result.FraudRiskScore, result.Reasons)
					}
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()
}

func predict(client *http.Client, baseURL string, tx map[string]any) (*PredictResponse, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	total := m.total.Load()
	flagged := m.flagged.Load()
	errs := m.errors.Load()

	fmt.Printf("\n📊 REQUEST STATISTICS\n")
	fmt.Printf("   Total Sent:    %d\n", total)
	fmt.Printf("   Flagged:       %d (%.2f%%)\n", flagged, pct(flagged, total))
	fmt.Printf("   Errors:        %d (%.2f%%)\n", errs, pct(errs, total))

	m.mu.Lock()
	latencies := append([]time.Duration(nil), m.latencies...)
	m.mu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Printf("\n⏱️  LATENCY\n")
	if len(latencies) > 0 {
		fmt.Printf("   p50:  %v\n", percentile(latencies, 0.50))
		fmt.Printf("   p90:  %v\n", percentile(latencies, 0.90))
		fmt.Printf("   p99:  %v\n", percentile(latencies, 0.99))
		fmt.Printf("   max:  %v\n", latencies[len(latencies)-1])
	}

	fmt.Printf("\n🚀 THROUGHPUT\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		fmt.Printf("   Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	fmt.Println()
}

func pct(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx].Round(time.Microsecond)
}
