package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sort"
	"sync"
	"time"
)

type LatencyStats struct {
	Connect    time.Duration
	FirstByte  time.Duration
	Total      time.Duration
	StatusCode int
	Error      error
}

// Summary aggregates one endpoint's samples.
type Summary struct {
	Requests int
	Errors   int
	Min      time.Duration
	Avg      time.Duration
	P95      time.Duration
	Max      time.Duration
	AvgTTFB  time.Duration
}

func main() {
	baseURL := flag.String("url", "http://localhost:1921", "Base URL of the API")
	token := flag.String("token", "", "Bearer token for session endpoints (skipped when empty)")
	datasetSize := flag.Int("n", 20, "Number of requests per endpoint")
	concurrency := flag.Int("c", 1, "Concurrency level (1 = sequential)")
	flag.Parse()

	endpoints := []string{
		"/health",
		"/api/version",
		"/api/stats",
	}
	if *token != "" {
		endpoints = append(endpoints, "/api/session")
	}

	fmt.Printf("Benchmarking %s with N=%d, C=%d\n\n", *baseURL, *datasetSize, *concurrency)

	client := &http.Client{Timeout: 5 * time.Second}
	for _, ep := range endpoints {
		results := benchmarkEndpoint(client, *baseURL+ep, *token, *datasetSize, *concurrency)
		printSummary(*baseURL+ep, summarize(results))
	}
}

func benchmarkEndpoint(client *http.Client, url, token string, n, concurrency int) []LatencyStats {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]LatencyStats, n)
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = measureLatency(client, url, token)
		}(i)
	}

	wg.Wait()
	return results
}

// summarize treats transport errors and non-2xx responses as failures.
func summarize(results []LatencyStats) Summary {
	s := Summary{Requests: len(results)}
	var totals []time.Duration
	var ttfbSum time.Duration

	for _, r := range results {
		if r.Error != nil || r.StatusCode < 200 || r.StatusCode > 299 {
			s.Errors++
			continue
		}
		totals = append(totals, r.Total)
		ttfbSum += r.FirstByte
	}
	if len(totals) == 0 {
		return s
	}

	sort.Slice(totals, func(i, j int) bool { return totals[i] < totals[j] })
	s.Min = totals[0]
	s.Max = totals[len(totals)-1]
	s.Avg = average(totals)
	s.P95 = totals[(len(totals)*95+99)/100-1]
	s.AvgTTFB = ttfbSum / time.Duration(len(totals))
	return s
}

func printSummary(url string, s Summary) {
	fmt.Printf("Endpoint: %s\n", url)
	if s.Errors > 0 {
		fmt.Printf("  Errors: %d/%d\n", s.Errors, s.Requests)
	}
	if s.Errors == s.Requests {
		fmt.Println("  No successful requests.")
		fmt.Println()
		return
	}
	fmt.Printf("  Latency (Total)   : Min %v | Avg %v | P95 %v | Max %v\n", s.Min, s.Avg, s.P95, s.Max)
	fmt.Printf("  Latency (TTFB)    : Avg %v\n", s.AvgTTFB)
	fmt.Println()
}

func measureLatency(client *http.Client, url, token string) LatencyStats {
	var stats LatencyStats
	var connStart, wroteRequest time.Time

	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		stats.Error = err
		return stats
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	trace := &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) { connStart = time.Now() },
		ConnectDone: func(network, addr string, err error) {
			stats.Connect = time.Since(connStart)
		},
		WroteRequest: func(wri httptrace.WroteRequestInfo) {
			wroteRequest = time.Now()
		},
		GotFirstResponseByte: func() {
			stats.FirstByte = time.Since(wroteRequest)
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		stats.Error = err
		return stats
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		stats.Error = err
		return stats
	}
	stats.Total = time.Since(start)
	stats.StatusCode = resp.StatusCode

	return stats
}

func average(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return sum / time.Duration(len(d))
}
