package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	clients     int
	agents      int
)

// Metrics
var (
	totalRequests uint64
	created201    uint64
	approved200   uint64
	conflict409   uint64
	rejected4xx   uint64
	ledger502     uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&clients, "clients", 1000, "Seeded client accounts")
	flag.IntVar(&agents, "agents", 50, "Seeded agent accounts")
}

type createdBody struct {
	Request struct {
		Reference string `json:"reference"`
	} `json:"request"`
	ConfirmationCode string `json:"confirmation_code"`
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// worker files a withdrawal as a client and approves it as the agent.
func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 10 * time.Second}

	for time.Since(start) < duration {
		requester, agent := pickParties()

		var c createdBody
		status, err := post(client, "/api/v1/requests", requester, map[string]any{
			"schema_version": 1,
			"kind":           "WITHDRAWAL",
			"counterparty":   agent,
			"amount":         int64(10_000 + rand.Intn(90_000)),
		}, &c)
		if !record(status, err) || status != http.StatusCreated {
			continue
		}

		status, err = post(client, "/api/v1/requests/"+c.Request.Reference+"/approve", agent,
			map[string]any{"code": c.ConfirmationCode}, nil)
		record(status, err)
	}
}

func post(client *http.Client, path, actor string, payload any, out any) (int, error) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, targetURL+path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Account-Id", actor)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func record(status int, err error) bool {
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return false
	}
	atomic.AddUint64(&totalRequests, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddUint64(&created201, 1)
	case status == http.StatusOK:
		atomic.AddUint64(&approved200, 1)
	case status == http.StatusConflict:
		atomic.AddUint64(&conflict409, 1)
	case status == http.StatusBadGateway:
		atomic.AddUint64(&ledger502, 1)
	case status >= 400 && status < 500:
		atomic.AddUint64(&rejected4xx, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
	return true
}

func pickParties() (string, string) {
	c := rand.Intn(clients) + 1
	a := rand.Intn(agents) + 1
	// Hotspot: 90% of traffic lands on agent 1
	if workload == "hotspot" && rand.Float32() < 0.90 {
		a = 1
	}
	return fmt.Sprintf("client-%04d", c), fmt.Sprintf("agent-%04d", a)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)

	results := map[string]any{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_tps":   float64(total) / d.Seconds(),
		"created":          atomic.LoadUint64(&created201),
		"approved":         atomic.LoadUint64(&approved200),
		"conflicts":        atomic.LoadUint64(&conflict409),
		"client_errors":    atomic.LoadUint64(&rejected4xx),
		"ledger_failures":  atomic.LoadUint64(&ledger502),
		"transport_errors": atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
