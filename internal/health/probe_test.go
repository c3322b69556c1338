package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	pass     = Fixed(true, "")
	errS3    = errors.New("s3: access denied")
	errRedis = errors.New("redis unreachable")
)

func failWith(err error) CheckFunc { return func(context.Context) error { return err } }

func TestFixed(t *testing.T) {
	if err := Fixed(true, "ignored").Check(context.Background()); err != nil {
		t.Fatalf("ok probe failed: %v", err)
	}
	if err := Fixed(false, "seed not loaded").Check(context.Background()); err == nil || err.Error() != "seed not loaded" {
		t.Fatalf("err = %v", err)
	}
	if err := Fixed(false, "").Check(context.Background()); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("default reason = %v", err)
	}
}

func TestAllAny(t *testing.T) {
	tests := []struct {
		name    string
		probe   Probe
		wantErr error
		generic bool
	}{
		{"all pass", All(pass, nil, pass), nil, false},
		{"all empty", All(), nil, false},
		{"all first failure", All(pass, failWith(errS3), failWith(errRedis)), errS3, false},
		{"any one passes", Any(failWith(errS3), pass), nil, false},
		{"any last failure", Any(failWith(errS3), nil, failWith(errRedis)), errRedis, false},
		{"any nothing to run", Any(nil, nil), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.probe.Check(context.Background())
			switch {
			case tt.generic:
				if err == nil || err.Error() != "no healthy probes" {
					t.Fatalf("err = %v", err)
				}
			case err != tt.wantErr:
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	ran := false
	probe := All(failWith(errS3), CheckFunc(func(context.Context) error { ran = true; return nil }))
	_ = probe.Check(context.Background())
	if ran {
		t.Fatal("probe after a failure still ran")
	}
}

func TestTimeout(t *testing.T) {
	slow := CheckFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	start := time.Now()
	if err := Timeout(slow, 20*time.Millisecond).Check(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout did not bound the probe")
	}
	if err := Timeout(pass, time.Second).Check(context.Background()); err != nil {
		t.Fatalf("fast probe: %v", err)
	}
	if err := Timeout(nil, time.Second).Check(context.Background()); err != nil {
		t.Fatalf("nil probe: %v", err)
	}
}

func TestNamed(t *testing.T) {
	err := Named("metadata", failWith(errRedis)).Check(context.Background())
	if err == nil || err.Error() != "metadata: redis unreachable" || !errors.Is(err, errRedis) {
		t.Fatalf("err = %v", err)
	}
	if err := Named("objects", pass).Check(context.Background()); err != nil {
		t.Fatalf("passing probe: %v", err)
	}
	if err := Named("objects", nil).Check(context.Background()); err != nil {
		t.Fatalf("nil probe: %v", err)
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	ready := All(g.Probe(), Named("metadata", pass))
	ctx := context.Background()

	if err := ready.Check(ctx); err != nil {
		t.Fatalf("fresh gate: %v", err)
	}
	g.Set("")
	if err := ready.Check(ctx); err == nil || err.Error() != "draining" {
		t.Fatalf("after Set(\"\") err = %v", err)
	}
	g.Set("shutting down")
	if err := ready.Check(ctx); err == nil || err.Error() != "shutting down" {
		t.Fatalf("after Set err = %v", err)
	}
	g.Clear()
	if err := ready.Check(ctx); err != nil {
		t.Fatalf("after Clear: %v", err)
	}
}

func TestShutdownGate_Concurrent(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); g.Set("draining"); g.Clear() }()
		go func() { defer wg.Done(); _ = p.Check(context.Background()) }()
	}
	wg.Wait()
}
