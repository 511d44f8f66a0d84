// Load generator for a running nodekeeper daemon: simulates concurrent
// build instances cycling spawn → status → trim and reports how the pool
// and the reuse decisions behave under contention.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8790", "Nodekeeper API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	builds = flag.Int("builds", 8, "Number of concurrent simulated builds")
	cycles = flag.Int("cycles", 5, "Spawn/trim cycles per simulated build")
	output = flag.String("output", "loadtest-results.json", "JSON output file path")
)

// --- Response types (mirrors models package) ---

type trimResponse struct {
	Success         bool         `json:"success"`
	NodeCount       int          `json:"node_count"`
	SystemWideNodes int          `json:"system_wide_nodes"`
	ReuseThreshold  int          `json:"reuse_threshold"`
	Kept            int          `json:"kept"`
	Terminated      int          `json:"terminated"`
	Error           *errorDetail `json:"error,omitempty"`
}

type statusResponse struct {
	Pool struct {
		LiveNodes int `json:"live_nodes"`
		BusyNodes int `json:"busy_nodes"`
	} `json:"pool"`
	SystemWideNodes int `json:"system_wide_nodes"`
	ReuseThreshold  int `json:"reuse_threshold"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Result types ---

type cycleResult struct {
	Build      int   `json:"build"`
	Cycle      int   `json:"cycle"`
	SpawnMs    int64 `json:"spawn_ms"`
	LiveBefore int   `json:"live_before"`
	TrimMs     int64 `json:"trim_ms"`
	Kept       int   `json:"kept"`
	Terminated int   `json:"terminated"`
	SystemWide int   `json:"system_wide"`
	Threshold  int   `json:"threshold"`
	OverCap    bool  `json:"over_cap"`
	Err        string `json:"error,omitempty"`
}

type report struct {
	Timestamp string        `json:"timestamp"`
	APIURL    string        `json:"api_url"`
	Builds    int           `json:"builds"`
	Cycles    int           `json:"cycles"`
	Results   []cycleResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== Nodekeeper Load Test ===")
	fmt.Printf("API URL:  %s\n", *apiURL)
	fmt.Printf("Builds:   %d\n", *builds)
	fmt.Printf("Cycles:   %d\n\n", *cycles)

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure nodekeeper is running\n")
		os.Exit(1)
	}

	rep := report{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		APIURL:    *apiURL,
		Builds:    *builds,
		Cycles:    *cycles,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for b := 1; b <= *builds; b++ {
		wg.Add(1)
		go func(build int) {
			defer wg.Done()
			for c := 1; c <= *cycles; c++ {
				cr := runCycle(build, c)
				mu.Lock()
				rep.Results = append(rep.Results, cr)
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	printSummary(rep.Results)

	if err := writeJSON(*output, rep); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// runCycle simulates one build: grow the pool by a node, observe status,
// then trim at "end of build" and record what the reuse decision did.
func runCycle(build, cycle int) cycleResult {
	cr := cycleResult{Build: build, Cycle: cycle}

	start := time.Now()
	if err := doPost("/api/v1/nodes", nil, nil); err != nil {
		// Hitting the hard max is expected under contention; keep going.
		cr.Err = err.Error()
	}
	cr.SpawnMs = time.Since(start).Milliseconds()

	var st statusResponse
	if err := doGet("/api/v1/status", &st); err == nil {
		cr.LiveBefore = st.Pool.LiveNodes
	}

	start = time.Now()
	var tr trimResponse
	if err := doPost("/api/v1/trim", map[string]any{}, &tr); err != nil {
		cr.Err = err.Error()
		return cr
	}
	cr.TrimMs = time.Since(start).Milliseconds()
	cr.Kept = tr.Kept
	cr.Terminated = tr.Terminated
	cr.SystemWide = tr.SystemWideNodes
	cr.Threshold = tr.ReuseThreshold
	cr.OverCap = tr.SystemWideNodes > tr.ReuseThreshold && tr.Kept > 0

	return cr
}

func doGet(path string, out any) error {
	req, err := http.NewRequest("GET", *apiURL+path, nil)
	if err != nil {
		return err
	}
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func doPost(path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest("POST", *apiURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func printSummary(results []cycleResult) {
	fmt.Println(strings.Repeat("─", 70))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Metric\tValue\n")
	fmt.Fprintf(w, "──────\t─────\n")

	var trimLatencies []int64
	var kept, terminated, overCap, errors int
	for _, r := range results {
		if r.Err != "" {
			errors++
			continue
		}
		trimLatencies = append(trimLatencies, r.TrimMs)
		kept += r.Kept
		terminated += r.Terminated
		if r.OverCap {
			overCap++
		}
	}

	fmt.Fprintf(w, "Cycles completed\t%d\n", len(results)-errors)
	fmt.Fprintf(w, "Cycles failed\t%d\n", errors)
	fmt.Fprintf(w, "Total kept\t%d\n", kept)
	fmt.Fprintf(w, "Total terminated\t%d\n", terminated)
	fmt.Fprintf(w, "Decisions over cap\t%d\n", overCap)
	if len(trimLatencies) > 0 {
		fmt.Fprintf(w, "Trim p50\t%dms\n", percentile(trimLatencies, 50))
		fmt.Fprintf(w, "Trim p95\t%dms\n", percentile(trimLatencies, 95))
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 70))
}

func percentile(values []int64, p int) int64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func writeJSON(path string, rep report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
