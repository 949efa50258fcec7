package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinical-scheduling/internal/config"
	"github.com/hackgods/clinical-scheduling/internal/db"
	"github.com/hackgods/clinical-scheduling/internal/logging"
	"github.com/hackgods/clinical-scheduling/internal/tenancy"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	Tenants         int
	Clinicians      int
	CreateRatio     float64
	RescheduleRatio float64
	CancelRatio     float64
	ListRatio       float64
	SlotGridHours   int
	CheckInvariant  bool
}

// World is the shared pool of identities and appointment ids the workers draw from.
type World struct {
	Tenants    []uuid.UUID
	Clinicians map[uuid.UUID][]uuid.UUID

	mu           sync.RWMutex
	appointments map[uuid.UUID][]uuid.UUID
}

func (w *World) Add(tenantID, id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appointments[tenantID] = append(w.appointments[tenantID], id)
}

func (w *World) Random(rng *rand.Rand, tenantID uuid.UUID) (uuid.UUID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := w.appointments[tenantID]
	if len(ids) == 0 {
		return uuid.Nil, false
	}
	return ids[rng.Intn(len(ids))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record counts a 4xx domain rejection (overlap, past, canceled) apart from
// transport and 5xx errors.
func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		atomic.AddInt64(&om.Error, 1)
	case status >= http.StatusBadRequest:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Success, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Create     OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	List       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	world   *World
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics
	day0    time.Time
}

func main() {
	baseCfg, err := config.Load()
	logger := logging.New(baseCfg.LogLevel, baseCfg.Env)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load base config")
	}

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("tenants", cfg.Tenants).
		Int("clinicians_per_tenant", cfg.Clinicians).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		world:  newWorld(cfg),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		day0:   time.Now().UTC().Truncate(time.Hour).Add(48 * time.Hour),
	}

	sim.Run()
	sim.PrintReport()

	if !cfg.CheckInvariant || baseCfg.StorageDriver != config.StorageDriverPostgres {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	violations, err := countOverlaps(ctx, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("invariant check")
	}
	if violations > 0 {
		logger.Error().Int("overlapping_pairs", violations).Msg("overlap invariant violated")
		pool.Close()
		os.Exit(1)
	}
	logger.Info().Msg("overlap invariant holds")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		Tenants:         getInt("SIM_TENANTS", 3),
		Clinicians:      getInt("SIM_CLINICIANS", 5),
		CreateRatio:     getFloat("SIM_CREATE_RATIO", 0.5),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.2),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ListRatio:       getFloat("SIM_LIST_RATIO", 0.2),
		SlotGridHours:   getInt("SIM_GRID_HOURS", 24),
		CheckInvariant:  getEnv("SIM_CHECK_INVARIANT", "true") == "true",
	}

	total := cfg.CreateRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ListRatio
	if total > 0 {
		cfg.CreateRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ListRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	switch {
	case cfg.Workers <= 0:
		return fmt.Errorf("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return fmt.Errorf("SIM_DURATION must be > 0")
	case cfg.Tenants <= 0 || cfg.Clinicians <= 0:
		return fmt.Errorf("SIM_TENANTS and SIM_CLINICIANS must be > 0")
	case cfg.SlotGridHours <= 0:
		return fmt.Errorf("SIM_GRID_HOURS must be > 0")
	}
	return nil
}

func newWorld(cfg SimConfig) *World {
	w := &World{
		Clinicians:   make(map[uuid.UUID][]uuid.UUID),
		appointments: make(map[uuid.UUID][]uuid.UUID),
	}
	for i := 0; i < cfg.Tenants; i++ {
		tenantID := uuid.New()
		w.Tenants = append(w.Tenants, tenantID)
		for j := 0; j < cfg.Clinicians; j++ {
			w.Clinicians[tenantID] = append(w.Clinicians[tenantID], uuid.New())
		}
	}
	return w
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	actorID := uuid.New()

	for ctx.Err() == nil {
		tenantID := s.world.Tenants[rng.Intn(len(s.world.Tenants))]
		r := rng.Float64()
		switch {
		case r < s.config.CreateRatio:
			s.doCreate(ctx, rng, tenantID, actorID)
		case r < s.config.CreateRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng, tenantID, actorID)
		case r < s.config.CreateRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng, tenantID, actorID)
		default:
			s.doList(ctx, rng, tenantID, actorID)
		}
	}
}

// randomRange picks a half-hour aligned slot on a small grid so that
// concurrent workers collide often.
func (s *Simulator) randomRange(rng *rand.Rand) (time.Time, time.Time) {
	start := s.day0.Add(time.Duration(rng.Intn(s.config.SlotGridHours*2)) * 30 * time.Minute)
	length := time.Duration(1+rng.Intn(3)) * 30 * time.Minute
	return start, start.Add(length)
}

func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand, tenantID, actorID uuid.UUID) {
	clinicians := s.world.Clinicians[tenantID]
	start, end := s.randomRange(rng)

	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.call(ctx, tenantID, actorID, http.MethodPost, "/v1/appointments", map[string]any{
		"patient_id":   uuid.NewString(),
		"clinician_id": clinicians[rng.Intn(len(clinicians))].String(),
		"starts_at":    start.Format(time.RFC3339),
		"ends_at":      end.Format(time.RFC3339),
	}, &resp)
	if err == nil && status == http.StatusCreated && resp.ID != uuid.Nil {
		s.world.Add(tenantID, resp.ID)
	}
	s.metrics.Create.Record(latency, status, err)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand, tenantID, actorID uuid.UUID) {
	id, ok := s.world.Random(rng, tenantID)
	if !ok {
		return
	}
	start, end := s.randomRange(rng)

	status, latency, err := s.call(ctx, tenantID, actorID, http.MethodPost, "/v1/appointments/"+id.String()+"/reschedule",
		map[string]any{
			"starts_at": start.Format(time.RFC3339),
			"ends_at":   end.Format(time.RFC3339),
		}, nil)
	s.metrics.Reschedule.Record(latency, status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand, tenantID, actorID uuid.UUID) {
	id, ok := s.world.Random(rng, tenantID)
	if !ok {
		return
	}

	status, latency, err := s.call(ctx, tenantID, actorID, http.MethodPost, "/v1/appointments/"+id.String()+"/cancel", nil, nil)
	s.metrics.Cancel.Record(latency, status, err)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand, tenantID, actorID uuid.UUID) {
	clinicians := s.world.Clinicians[tenantID]
	path := fmt.Sprintf("/v1/appointments?clinician_id=%s&status=scheduled&page_size=50",
		clinicians[rng.Intn(len(clinicians))])

	status, latency, err := s.call(ctx, tenantID, actorID, http.MethodGet, path, nil, nil)
	s.metrics.List.Record(latency, status, err)
}

func (s *Simulator) call(ctx context.Context, tenantID, actorID uuid.UUID, method, path string, body, out any) (int, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tenancy.TenantHeader, tenantID.String())
	req.Header.Set(tenancy.ActorHeader, actorID.String())

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency, nil
}

// countOverlaps returns the number of scheduled pairs that share a clinician
// and overlap in time. Anything above zero is a storage bug.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments a
		JOIN appointments b
		  ON a.tenant_id = b.tenant_id
		 AND a.clinician_id = b.clinician_id
		 AND a.id < b.id
		WHERE a.status = 'scheduled'
		  AND b.status = 'scheduled'
		  AND a.starts_at < b.ends_at
		  AND b.starts_at < a.ends_at
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overlaps: %w", err)
	}
	return n, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Create", &s.metrics.Create)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)
	p50, p95, max := om.Percentiles()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: p50=%s p95=%s max=%s\n\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
