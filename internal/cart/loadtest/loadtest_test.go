package loadtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cartsync/cart/internal/cart/reconcile"
)

// TestNewEnvironment verifies that every member starts from the seeded list.
func TestNewEnvironment(t *testing.T) {
	ctx := context.Background()
	env, err := NewEnvironment(ctx, filepath.Join(t.TempDir(), "load.db"), 3, 5, nil)
	if err != nil {
		t.Fatalf("Failed to create environment: %v", err)
	}
	defer env.Close()

	if len(env.Members) != 3 {
		t.Fatalf("Expected 3 members, got %d", len(env.Members))
	}
	for i, r := range env.Members {
		if got := len(r.Items()); got != 5 {
			t.Errorf("Member %d sees %d items, expected 5", i, got)
		}
		if !r.Live() {
			t.Errorf("Member %d is not live", i)
		}
	}
	if n := env.Store.Hub().SubscriberCount(env.GroupID); n != 3 {
		t.Errorf("Expected 3 subscribers, got %d", n)
	}
}

func TestNewEnvironment_RequiresMembers(t *testing.T) {
	if _, err := NewEnvironment(context.Background(), filepath.Join(t.TempDir(), "load.db"), 0, 0, nil); err == nil {
		t.Fatal("Expected error for zero members")
	}
}

// TestRun_Small verifies a short concurrent run converges.
func TestRun_Small(t *testing.T) {
	ctx := context.Background()
	env, err := NewEnvironment(ctx, filepath.Join(t.TempDir(), "load.db"), 3, 10, nil)
	if err != nil {
		t.Fatalf("Failed to create environment: %v", err)
	}
	defer env.Close()

	report, err := env.Run(ctx, 10, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if total := report.Adds + report.Toggles + report.Deletes; total == 0 || total > 30 {
		t.Errorf("Expected between 1 and 30 operations, got %d", total)
	}
	if report.Latency.TotalCalls != report.Adds+report.Toggles+report.Deletes {
		t.Errorf("Latency samples (%d) do not match operations", report.Latency.TotalCalls)
	}

	convergeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := env.Converge(convergeCtx); err != nil {
		t.Fatalf("Members did not converge: %v", err)
	}

	t.Logf("adds=%d toggles=%d deletes=%d %s", report.Adds, report.Toggles, report.Deletes, report.Latency)
}

// TestRun_Medium runs more members and operations.
func TestRun_Medium(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping medium load test in short mode")
	}

	ctx := context.Background()
	env, err := NewEnvironment(ctx, filepath.Join(t.TempDir(), "load.db"), 8, 20, nil)
	if err != nil {
		t.Fatalf("Failed to create environment: %v", err)
	}
	defer env.Close()

	start := time.Now()
	report, err := env.Run(ctx, 40, 42)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	elapsed := time.Since(start)

	convergeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := env.Converge(convergeCtx); err != nil {
		t.Fatalf("Members did not converge: %v", err)
	}

	items, err := env.Store.FetchItems(ctx, env.GroupID)
	if err != nil {
		t.Fatalf("FetchItems failed: %v", err)
	}
	t.Logf("%d ops in %v, %d items remain: %s",
		report.Adds+report.Toggles+report.Deletes, elapsed, len(items), report.Latency)
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}

	s := computeLatencyStats(ds)
	if s.TotalCalls != 100 {
		t.Errorf("TotalCalls = %d, want 100", s.TotalCalls)
	}
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v, want 1ms/100ms", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", s.P50)
	}
	if s.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", s.P99)
	}
	if ds[0] != 100*time.Millisecond {
		t.Error("computeLatencyStats reordered its input")
	}

	if empty := computeLatencyStats(nil); empty.TotalCalls != 0 {
		t.Errorf("empty TotalCalls = %d", empty.TotalCalls)
	}
}

func TestKeysAndMismatch(t *testing.T) {
	if got := firstMismatch([]string{"a", "b"}, []string{"a", "c"}); got != "b vs c" {
		t.Errorf("firstMismatch = %q", got)
	}
	if got := firstMismatch([]string{"a", "b"}, []string{"a"}); got != "b" {
		t.Errorf("firstMismatch = %q", got)
	}
	if got := firstMismatch(nil, nil); got != "none" {
		t.Errorf("firstMismatch = %q", got)
	}
}

// Benchmark functions

// BenchmarkFetchItems_200Items benchmarks seeding a 200 item list.
func BenchmarkFetchItems_200Items(b *testing.B) {
	ctx := context.Background()
	env, err := NewEnvironment(ctx, filepath.Join(b.TempDir(), "bench.db"), 1, 200, nil)
	if err != nil {
		b.Fatalf("Failed to create environment: %v", err)
	}
	defer env.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.Members[0].Seed(ctx); err != nil {
			b.Fatalf("Seed failed: %v", err)
		}
	}
}

// BenchmarkSorted_200Items benchmarks the display sort.
func BenchmarkSorted_200Items(b *testing.B) {
	ctx := context.Background()
	env, err := NewEnvironment(ctx, filepath.Join(b.TempDir(), "bench.db"), 1, 200, nil)
	if err != nil {
		b.Fatalf("Failed to create environment: %v", err)
	}
	defer env.Close()
	items := env.Members[0].Snapshot()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = reconcile.Sorted(items)
	}
}

// BenchmarkRun_4Members benchmarks a short concurrent run with four members.
func BenchmarkRun_4Members(b *testing.B) {
	ctx := context.Background()
	env, err := NewEnvironment(ctx, filepath.Join(b.TempDir(), "bench.db"), 4, 20, nil)
	if err != nil {
		b.Fatalf("Failed to create environment: %v", err)
	}
	defer env.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.Run(ctx, 10, int64(i)); err != nil {
			b.Fatalf("Run failed: %v", err)
		}
	}
}
