// Benchmark tool that replays synthetic checkout traffic against Harrier.
//
// Usage:
//
//	go run cmd/benchmark/main.go -url http://localhost:8080 -checkouts 2000 -attack-rate 0.1
//
// This tool:
//  1. Generates legitimate checkouts (one card, one or two attempts)
//  2. Mixes in card-testing checkouts (many cards, mostly failed, small amounts)
//  3. Sends every attempt to POST /assess concurrently
//  4. Compares the decision on the last attempt of each checkout with its label
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

	"github.com/opensource-finance/harrier/internal/domain"
)

// Checkout is a labeled sequence of payment attempts on one invoice.
type Checkout struct {
	Attempts    []domain.PaymentEvent
	CardTesting bool
}

// AssessResponse is the subset of the assessment the benchmark reads.
type AssessResponse struct {
	Decision  domain.Decision       `json:"decision"`
	Source    domain.DecisionSource `json:"source"`
	Composite domain.CompositeScore `json:"composite"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // card testing refused (REVIEW or BLOCK)
	FalsePositives int64 // legitimate checkout refused
	TrueNegatives  int64 // legitimate checkout allowed
	FalseNegatives int64 // card testing allowed

	Blocked        int64
	TotalAttempts  int64
	TotalCheckouts int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	orgID := flag.String("org", "benchmark-org", "Organization ID for requests")
	checkouts := flag.Int("checkouts", 1000, "Number of checkouts to generate")
	attackRate := flag.Float64("attack-rate", 0.1, "Share of card-testing checkouts (0.0-1.0)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", 1, "Random seed")
	verbose := flag.Bool("verbose", false, "Print each checkout result")
	flag.Parse()

	fmt.Println("=================================================================")
	fmt.Println("          HARRIER BENCHMARK - Card-Testing Detection")
	fmt.Println("=================================================================")
	fmt.Printf("\nHarrier URL:  %s\n", *baseURL)
	fmt.Printf("Organization: %s\n", *orgID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Checkouts:    %d\n", *checkouts)
	fmt.Printf("Attack Rate:  %.2f\n", *attackRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("OK  Harrier is healthy")

	rng := rand.New(rand.NewSource(*seed))
	data := generate(rng, *orgID, *checkouts, *attackRate)
	attacks := 0
	for _, c := range data {
		if c.CardTesting {
			attacks++
		}
	}
	fmt.Printf("OK  Generated %d checkouts (%d card testing)\n", len(data), attacks)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(data, *baseURL, *orgID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
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
	return nil
}

var countries = []string{"US", "GB", "DE", "FR", "BR", "IN", "NG", "CA"}

func generate(rng *rand.Rand, orgID string, n int, attackRate float64) []Checkout {
	now := time.Now().UTC()
	out := make([]Checkout, 0, n)
	for i := 0; i < n; i++ {
		invoice := fmt.Sprintf("inv-%s", uuid.New().String()[:8])
		ip := fmt.Sprintf("10.%d.%d.%d", rng.Intn(256), rng.Intn(256), rng.Intn(256))
		country := countries[rng.Intn(len(countries))]
		ts := now.Add(-time.Duration(rng.Intn(3600)) * time.Second)

		if rng.Float64() < attackRate {
			c := Checkout{CardTesting: true}
			cards := 4 + rng.Intn(6)
			for j := 0; j < cards; j++ {
				status := domain.AttemptFailed
				if j == cards-1 && rng.Intn(3) == 0 {
					status = domain.AttemptSucceeded
				}
				c.Attempts = append(c.Attempts, domain.PaymentEvent{
					PaymentID: uuid.New().String(),
					InvoiceID: invoice,
					Amount:    int64(50 + rng.Intn(400)),
					Currency:  "USD",
					Status:    status,
					IP:        domain.IPInfo{Address: ip, Country: country},
					Card: domain.CardInfo{
						Fingerprint: uuid.New().String(),
						Brand:       []string{"visa", "mastercard", "amex"}[rng.Intn(3)],
						Funding:     domain.FundingPrepaid,
						Country:     countries[rng.Intn(len(countries))],
					},
					Timestamp: ts.Add(time.Duration(j*15) * time.Second),
				})
			}
			out = append(out, c)
			continue
		}

		c := Checkout{}
		customer := fmt.Sprintf("cus-%d", rng.Intn(n/2+1))
		card := domain.CardInfo{Fingerprint: "fp-" + customer, Brand: "visa", Funding: domain.FundingCredit, Country: country}
		amount := int64(1000 + rng.Intn(20000))
		attempts := 1
		if rng.Intn(10) == 0 {
			attempts = 2
		}
		for j := 0; j < attempts; j++ {
			status := domain.AttemptSucceeded
			if j < attempts-1 {
				status = domain.AttemptFailed
			}
			c.Attempts = append(c.Attempts, domain.PaymentEvent{
				PaymentID:  uuid.New().String(),
				InvoiceID:  invoice,
				CustomerID: customer,
				Amount:     amount,
				Currency:   "USD",
				Status:     status,
				IP:         domain.IPInfo{Address: ip, Country: country},
				Card:       card,
				Timestamp:  ts.Add(time.Duration(j) * time.Minute),
			})
		}
		out = append(out, c)
	}
	return out
}

func runBenchmark(data []Checkout, baseURL, orgID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Checkout, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				var last *AssessResponse
				failed := false
				// Attempts of one checkout are sequential, like a real client.
				for _, ev := range c.Attempts {
					start := time.Now()
					result, err := assess(client, baseURL, orgID, ev)
					atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
					atomic.AddInt64(&metrics.TotalAttempts, 1)
					if err != nil {
						atomic.AddInt64(&metrics.TotalErrors, 1)
						if verbose {
							fmt.Printf("ERROR: %s -> %v\n", ev.InvoiceID, err)
						}
						failed = true
						break
					}
					if result.Decision == domain.DecisionBlock {
						atomic.AddInt64(&metrics.Blocked, 1)
					}
					last = result
				}
				atomic.AddInt64(&metrics.TotalCheckouts, 1)
				if failed || last == nil {
					continue
				}

				refused := last.Decision != domain.DecisionAllow
				switch {
				case refused && c.CardTesting:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case refused && !c.CardTesting:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !refused && !c.CardTesting:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					mark := "ok"
					if refused != c.CardTesting {
						mark = "xx"
					}
					fmt.Printf("%s %-12s | attempts: %2d | card testing: %-5v | %-6s via %-11s | composite %3d (%s)\n",
						mark,
						c.Attempts[0].InvoiceID,
						len(c.Attempts),
						c.CardTesting,
						last.Decision,
						last.Source,
						last.Composite.Score,
						last.Composite.Level,
					)
				}
			}
		}()
	}

	for _, c := range data {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

func assess(client *http.Client, baseURL, orgID string, ev domain.PaymentEvent) (*AssessResponse, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/assess", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Organization-ID", orgID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n=================================================================")
	fmt.Println("                       BENCHMARK RESULTS")
	fmt.Println("=================================================================")

	fmt.Printf("\nTRAFFIC\n")
	fmt.Printf("   Checkouts:        %d\n", m.TotalCheckouts)
	fmt.Printf("   Attempts:         %d\n", m.TotalAttempts)
	fmt.Printf("   Blocked attempts: %d\n", m.Blocked)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX (last attempt of each checkout)\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   REFUSED     ALLOW")
	fmt.Printf("   Card testing   %8d  %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   Legitimate     %8d  %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalAttempts > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalAttempts)
		tps := float64(m.TotalAttempts) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f attempts/sec\n", tps)
	}
	fmt.Println()
}
