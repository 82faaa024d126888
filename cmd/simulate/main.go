// simulate drives concurrent booking races against a running api-server and
// checks the exclusivity guarantee end to end: for every contested slot
// exactly one claim must win, and the store must end up with exactly one
// active booking per opening.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/careloop/clinic-waitlist/internal/db"
)

type simConfig struct {
	apiBaseURL  string
	slots       int
	contenders  int
	postgresDSN string
}

type raceMetrics struct {
	total     int64
	won       int64
	conflicts int64
	errors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *raceMetrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&m.total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&m.won, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.conflicts, 1)
	default:
		atomic.AddInt64(&m.errors, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *raceMetrics) stats() (p50, p95, max time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0, 0, 0
	}
	ls := make([]time.Duration, len(m.latencies))
	copy(ls, m.latencies)
	sort.Slice(ls, func(i, j int) bool { return ls[i] < ls[j] })

	idx := func(pct int) int {
		i := len(ls) * pct / 100
		if i >= len(ls) {
			i = len(ls) - 1
		}
		return i
	}
	return ls[idx(50)], ls[idx(95)], ls[len(ls)-1]
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg := simConfig{postgresDSN: os.Getenv("POSTGRES_DSN")}
	flag.StringVar(&cfg.apiBaseURL, "api", "http://127.0.0.1:8080", "api-server base URL")
	flag.IntVar(&cfg.slots, "slots", 10, "number of slots to contest")
	flag.IntVar(&cfg.contenders, "contenders", 8, "concurrent booking attempts per slot")
	flag.Parse()

	if cfg.postgresDSN == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.postgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	races, err := loadRaces(ctx, pool, cfg.slots, cfg.contenders)
	if err != nil {
		log.Fatal().Err(err).Msg("load race data")
	}
	if len(races) == 0 {
		log.Fatal().Msg("no contestable slots found, run cmd/seed first")
	}

	metrics := &raceMetrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	start := time.Now()
	var wg sync.WaitGroup
	for _, race := range races {
		for _, entryID := range race.entries {
			wg.Add(1)
			go func(slotID, entryID uuid.UUID) {
				defer wg.Done()
				attemptBooking(ctx, client, cfg.apiBaseURL, metrics, entryID, slotID)
			}(race.slotID, entryID)
		}
	}
	wg.Wait()
	elapsed := time.Since(start)

	doubles, err := countDoubleClaims(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("verify exclusivity")
	}

	p50, p95, max := metrics.stats()
	log.Info().
		Int("contested_slots", len(races)).
		Int64("attempts", metrics.total).
		Int64("won", metrics.won).
		Int64("conflicts", metrics.conflicts).
		Int64("errors", metrics.errors).
		Dur("elapsed", elapsed).
		Dur("p50", p50).
		Dur("p95", p95).
		Dur("max", max).
		Msg("simulation complete")

	if doubles > 0 {
		log.Fatal().Int("double_claims", doubles).Msg("EXCLUSIVITY VIOLATED: openings with more than one active booking")
	}
	if int(metrics.won) > len(races) {
		log.Fatal().Msg("EXCLUSIVITY VIOLATED: more winners than contested slots")
	}
	log.Info().Msg("exclusivity holds: at most one winner per slot")
}

type race struct {
	slotID  uuid.UUID
	entries []uuid.UUID
}

// loadRaces pairs each contested slot with waiting entries whose treatment
// fits it, so the matcher will not reject the attempts outright.
func loadRaces(ctx context.Context, pool *pgxpool.Pool, slots, contenders int) ([]race, error) {
	rows, err := pool.Query(ctx, `
		SELECT s.id, e.id
		FROM availability_slots s
		JOIN waitlist_entries e
		  ON e.status = 'waiting'
		 AND e.flexible_timing
		 AND e.expires_at > now()
		 AND s.starts_at::date BETWEEN e.preferred_date - 7 AND e.preferred_date + 14
		JOIN treatments t
		  ON t.id = e.treatment_ref
		 AND t.duration_minutes <= s.duration_minutes
		WHERE s.starts_at > now()
		  AND NOT EXISTS (
		      SELECT 1 FROM bookings b
		      WHERE b.slot_id = s.id AND b.status IN ('pending','confirmed')
		  )
		ORDER BY s.starts_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySlot := make(map[uuid.UUID][]uuid.UUID)
	var order []uuid.UUID
	for rows.Next() {
		var slotID, entryID uuid.UUID
		if err := rows.Scan(&slotID, &entryID); err != nil {
			return nil, err
		}
		if _, seen := bySlot[slotID]; !seen {
			order = append(order, slotID)
		}
		if len(bySlot[slotID]) < contenders {
			bySlot[slotID] = append(bySlot[slotID], entryID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var races []race
	for _, slotID := range order {
		if len(races) == slots {
			break
		}
		if entries := bySlot[slotID]; len(entries) >= 2 {
			races = append(races, race{slotID: slotID, entries: entries})
		}
	}
	return races, nil
}

func attemptBooking(ctx context.Context, client *http.Client, baseURL string, metrics *raceMetrics, entryID, slotID uuid.UUID) {
	body, _ := json.Marshal(map[string]any{
		"entry_id": entryID.String(),
		"slot_id":  slotID.String(),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		metrics.record(0, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.record(latency, 0)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	metrics.record(latency, resp.StatusCode)

	if resp.StatusCode >= 500 {
		log.Warn().Int("status", resp.StatusCode).Str("slot_id", slotID.String()).Msg("unexpected booking failure")
	}
}

func countDoubleClaims(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM (
			SELECT resource_ref, starts_at
			FROM bookings
			WHERE status IN ('pending','confirmed')
			GROUP BY resource_ref, starts_at
			HAVING COUNT(*) > 1
		) doubled
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count double claims: %w", err)
	}
	return n, nil
}
