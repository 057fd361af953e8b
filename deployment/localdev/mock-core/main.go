package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type logLine struct {
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}

type hostMetrics struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// scenarios are the synthetic error bursts the mock can replay.
var scenarios = map[string][]string{
	"healthy": nil,
	"null-violation": {
		`ERROR psycopg2.errors.NotNullViolation: null value in column "category" of relation "products" violates not-null constraint`,
	},
	"column-length": {
		`ERROR psycopg2.errors.StringDataRightTruncation: value too long for type character varying(100)`,
	},
	"rate-limit": {
		`WARNING groq.RateLimitError: Error code: 429 - rate limit reached for model llama-3.3-70b-versatile`,
	},
	"model-deprecation": {
		`ERROR groq.BadRequestError: The model llama3-70b-8192 has been decommissioned and is no longer supported`,
	},
	"key-error": {
		`ERROR Traceback (most recent call last):`,
		`  File "/app/services/pricing.py", line 42, in compute`,
		`KeyError: 'price'`,
	},
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	scenario := flag.String("scenario", "null-violation", "error burst to emit: healthy, null-violation, column-length, rate-limit, model-deprecation, key-error")
	burst := flag.Int("burst", 12, "repetitions of the scenario per request")
	flag.Parse()

	lines, ok := scenarios[*scenario]
	if !ok {
		log.Fatalf("unknown scenario %q", *scenario)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/logs/lines", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Service string `json:"service"`
			Since   string `json:"since"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}

		now := time.Now().UTC()
		out := []logLine{{Timestamp: now.Add(-2 * time.Minute), Line: "INFO " + req.Service + " worker started"}}
		for i := 0; i < *burst; i++ {
			ts := now.Add(-time.Duration(*burst-i) * 5 * time.Second)
			for _, l := range lines {
				out = append(out, logLine{Timestamp: ts, Line: l})
			}
		}
		writeJSON(w, map[string]any{"lines": out})
	})

	mux.HandleFunc("/api/v1/metrics/host", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, hostMetrics{
			CPUPercent:    35 + rand.Float64()*20,
			MemoryPercent: 55 + rand.Float64()*10,
			DiskPercent:   42,
			SampledAt:     time.Now().UTC(),
		})
	})

	logger := log.New(log.Writer(), "core-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s (scenario %s, burst %d)", *addr, *scenario, *burst)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
