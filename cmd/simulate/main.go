package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
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

	"github.com/hackgods/clinic-appointment-lifecycle/internal/config"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/db"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	DoctorLimit  int
	PatientLimit int
	PostgresDSN  string
	Location     *time.Location
}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, worst time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	worst = latencies[len(latencies)-1]
	return avg, p50, p95, worst
}

type Metrics struct {
	Slots   OperationMetrics
	Reserve OperationMetrics
	Book    OperationMetrics
	Approve OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics

	// booked counts slots won per key, to detect double bookings.
	mu     sync.Mutex
	booked map[string]int
}

// envelope is the lifecycle result shape returned by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d", cfg.Duration, cfg.Workers)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d doctors, %d patients", len(dataPool.Doctors), len(dataPool.Patients))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		booked: make(map[string]int),
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 5),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 1000),
		PostgresDSN:  baseCfg.PostgresDSN,
		Location:     baseCfg.ClinicLocation,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	dataPool.Doctors, err = loadIDs(ctx, pool, `
		SELECT DISTINCT doctor_id FROM doctor_working_hours LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors with working hours loaded")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, sql string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Run points every worker at the same small set of doctors so that most
// reservation attempts collide.
func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
		patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

		slot, ok := s.pickSlot(ctx, rng, doctorID)
		if !ok {
			continue
		}

		token, ok := s.reserve(ctx, doctorID, slot)
		if !ok {
			continue
		}

		id, ok := s.book(ctx, token, doctorID, patientID, slot)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.booked[doctorID.String()+"@"+slot.Format(time.RFC3339)]++
		s.mu.Unlock()

		if rng.Intn(2) == 0 {
			s.approve(ctx, id)
		}
	}
}

// pickSlot returns a free slot on the next weekday, preferring the earliest
// ones to maximize contention.
func (s *Simulator) pickSlot(ctx context.Context, rng *rand.Rand, doctorID uuid.UUID) (time.Time, bool) {
	day := time.Now().In(s.config.Location).AddDate(0, 0, 1)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}

	var sched struct {
		Slots []struct {
			Time      time.Time `json:"time"`
			Available bool      `json:"available"`
		} `json:"slots"`
	}
	url := fmt.Sprintf("%s/doctors/%s/slots?date=%s", s.config.APIBaseURL, doctorID, day.Format(time.DateOnly))
	env, status, latency, err := s.call(ctx, http.MethodGet, url, nil)
	s.metrics.Slots.Record(latency, err == nil && status == http.StatusOK, false)
	if err != nil || !env.Success || json.Unmarshal(env.Payload, &sched) != nil {
		return time.Time{}, false
	}

	var free []time.Time
	for _, sl := range sched.Slots {
		if sl.Available {
			free = append(free, sl.Time)
		}
	}
	if len(free) == 0 {
		return time.Time{}, false
	}
	return free[rng.Intn(min(len(free), 3))], true
}

func (s *Simulator) reserve(ctx context.Context, doctorID uuid.UUID, slot time.Time) (string, bool) {
	body := map[string]any{"doctor_id": doctorID, "date_time": slot}
	env, status, latency, err := s.call(ctx, http.MethodPost, s.config.APIBaseURL+"/reservations", body)
	s.metrics.Reserve.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
	if err != nil || !env.Success {
		return "", false
	}

	var hold struct {
		Token string `json:"hold_token"`
	}
	if json.Unmarshal(env.Payload, &hold) != nil {
		return "", false
	}
	return hold.Token, true
}

func (s *Simulator) book(ctx context.Context, token string, doctorID, patientID uuid.UUID, slot time.Time) (uuid.UUID, bool) {
	body := map[string]any{
		"hold_token": token,
		"doctor_id":  doctorID,
		"patient_id": patientID,
		"date_time":  slot,
		"type":       "consultation",
		"reason":     "simulated booking",
	}
	env, status, latency, err := s.call(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", body)
	s.metrics.Book.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
	if err != nil || !env.Success {
		return uuid.Nil, false
	}

	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	if json.Unmarshal(env.Payload, &appt) != nil {
		return uuid.Nil, false
	}
	return appt.ID, true
}

func (s *Simulator) approve(ctx context.Context, id uuid.UUID) {
	url := fmt.Sprintf("%s/appointments/%s/approve", s.config.APIBaseURL, id)
	_, status, latency, err := s.call(ctx, http.MethodPost, url, map[string]string{"reason": "simulated review"})
	s.metrics.Approve.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) call(ctx context.Context, method, url string, body any) (envelope, int, time.Duration, error) {
	var env envelope

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return env, 0, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return env, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return env, 0, latency, err
	}
	defer resp.Body.Close()

	err = json.NewDecoder(resp.Body).Decode(&env)
	return env, resp.StatusCode, latency, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Slot lookup", &s.metrics.Slots)
	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Approve", &s.metrics.Approve)

	s.mu.Lock()
	defer s.mu.Unlock()
	doubles := 0
	for key, n := range s.booked {
		if n > 1 {
			doubles++
			fmt.Printf("DOUBLE BOOKING: %s booked %d times\n", key, n)
		}
	}
	fmt.Printf("Distinct slots booked: %d, double bookings: %d\n", len(s.booked), doubles)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, worst := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), worst.Round(time.Millisecond))
	fmt.Println()
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
