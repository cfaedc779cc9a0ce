// Package loadtest simulates a household editing one list at once.
//
// Each simulated member owns a reconciler connected to a shared store and
// performs a random mix of adds, toggles and deletes. After the run every
// reconciler must hold exactly the items the store holds: no duplicates,
// no lost deletes and the same completion flags.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cartsync/cart/internal/cart/db"
	"github.com/cartsync/cart/internal/cart/feed"
	"github.com/cartsync/cart/internal/cart/reconcile"
	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/cartsync/cart/internal/cart/store"
	"go.uber.org/zap"
)

// Environment is a populated group with one reconciler per member.
type Environment struct {
	DB      *db.DB
	Store   *store.Local
	GroupID string
	Members []*reconcile.Reconciler
}

// LatencyStats captures how long members waited for confirmations.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalCalls int
	Errors     int
}

// Report summarizes a Run.
type Report struct {
	Adds    int
	Toggles int
	Deletes int
	Latency *LatencyStats
}

// NewEnvironment creates a database at dbPath with one group shared by
// members users, each with an activated reconciler. Seed items are added
// before the reconcilers start.
func NewEnvironment(ctx context.Context, dbPath string, members, seedItems int, logger *zap.Logger) (*Environment, error) {
	if members < 1 {
		return nil, fmt.Errorf("members must be at least 1")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	hub := feed.NewHub(&feed.HubConfig{Buffer: 4096, Logger: logger})
	st := store.New(database, hub, logger)
	env := &Environment{DB: database, Store: st}

	g, err := st.CreateGroup(ctx, "loadtest", memberID(0))
	if err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	env.GroupID = g.ID

	for i := 1; i < members; i++ {
		if err := st.JoinGroup(ctx, g.ID, memberID(i)); err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("failed to add member %d: %w", i, err)
		}
	}

	for i := 0; i < seedItems; i++ {
		if _, err := st.AddItem(ctx, g.ID, fmt.Sprintf("item %d", i), "", ""); err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("failed to seed item %d: %w", i, err)
		}
	}

	for i := 0; i < members; i++ {
		r := reconcile.New(st, reconcile.Session{UserID: memberID(i)}, &reconcile.Config{Logger: logger})
		env.Members = append(env.Members, r)
		if err := r.Activate(ctx, g.ID); err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("failed to activate member %d: %w", i, err)
		}
	}

	return env, nil
}

func memberID(i int) string {
	return fmt.Sprintf("member-%03d", i)
}

// Close stops every reconciler and closes the database.
func (e *Environment) Close() error {
	for _, r := range e.Members {
		r.Close()
	}
	e.Store.Hub().Close()
	return e.DB.Close()
}

// Run has every member perform opsPerMember random operations
// concurrently. The same seed yields the same per-member operation mix.
func (e *Environment) Run(ctx context.Context, opsPerMember int, seed int64) (*Report, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		report  = &Report{}
		samples []time.Duration
		errs    int
	)

	for i, r := range e.Members {
		wg.Add(1)
		go func(i int, r *reconcile.Reconciler) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(i)))

			for j := 0; j < opsPerMember; j++ {
				if ctx.Err() != nil {
					return
				}

				op, took, err := e.step(ctx, r, rng, i, j)

				mu.Lock()
				switch op {
				case "add":
					report.Adds++
				case "toggle":
					report.Toggles++
				case "delete":
					report.Deletes++
				}
				if op != "" {
					samples = append(samples, took)
				}
				// Items removed by another member between pick and call are expected.
				if err != nil && !errors.Is(err, reconcile.ErrUnknownItem) && !errors.Is(err, db.ErrNotFound) {
					errs++
				}
				mu.Unlock()
			}
		}(i, r)
	}
	wg.Wait()

	report.Latency = computeLatencyStats(samples)
	report.Latency.Errors = errs
	return report, ctx.Err()
}

// step performs one random operation: half adds, the rest split between
// toggles and deletes of a random visible item.
func (e *Environment) step(ctx context.Context, r *reconcile.Reconciler, rng *rand.Rand, member, n int) (string, time.Duration, error) {
	items := r.Items()
	roll := rng.Intn(10)

	start := time.Now()
	if roll < 5 || len(items) == 0 {
		_, err := r.AddItem(ctx, fmt.Sprintf("m%d-%d", member, n))
		return "add", time.Since(start), err
	}

	it := items[rng.Intn(len(items))]
	if it.Pending {
		return "", 0, nil
	}
	if roll < 8 {
		err := r.ToggleItem(ctx, it.ID)
		return "toggle", time.Since(start), err
	}
	err := r.DeleteItem(ctx, it.ID)
	return "delete", time.Since(start), err
}

// Converge waits until every member's list matches the store, refreshing
// members whose feed dropped. It returns the first divergence if the
// lists still differ when ctx ends.
func (e *Environment) Converge(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		err := e.Diverged(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-ticker.C:
		}

		for _, r := range e.Members {
			if !r.Live() {
				_ = r.Refresh(ctx)
			}
		}
	}
}

// Diverged compares every member with the store and describes the first
// difference found.
func (e *Environment) Diverged(ctx context.Context) error {
	want, err := e.Store.FetchItems(ctx, e.GroupID)
	if err != nil {
		return err
	}
	wantKeys := keys(want)

	for i, r := range e.Members {
		got := r.Snapshot()
		if err := checkUnique(got); err != nil {
			return fmt.Errorf("%s: %w", memberID(i), err)
		}
		if gotKeys := keys(got); !slices.Equal(gotKeys, wantKeys) {
			return fmt.Errorf("%s: has %d items, store has %d (first mismatch %s)",
				memberID(i), len(got), len(want), firstMismatch(gotKeys, wantKeys))
		}
	}
	return nil
}

// keys renders items as sorted "id:completed" strings.
func keys(items []schema.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = fmt.Sprintf("%s:%t", it.ID, it.Completed)
	}
	sort.Strings(out)
	return out
}

func checkUnique(items []schema.Item) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.ID] {
			return fmt.Errorf("duplicate item %s", it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}

func firstMismatch(a, b []string) string {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] + " vs " + b[i]
		}
	}
	if len(a) > len(b) {
		return a[len(b)]
	}
	if len(b) > len(a) {
		return b[len(a)]
	}
	return "none"
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalCalls: len(durations),
	}
}

// String formats latency statistics.
func (s *LatencyStats) String() string {
	return fmt.Sprintf("calls=%d errors=%d min=%v p50=%v mean=%v p95=%v p99=%v max=%v",
		s.TotalCalls, s.Errors, s.Min, s.P50, s.Mean, s.P95, s.P99, s.Max)
}
