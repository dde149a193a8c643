package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestUploadLimiter_AcquireRelease(t *testing.T) {
	limiter := NewUploadLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.Available(); got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	r1, err := limiter.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	r2, err := limiter.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	if got := limiter.Available(); got != 0 {
		t.Errorf("Available = %d, want 0", got)
	}

	r1()
	r1() // second call is a no-op
	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("after release, ActiveCount = %d, want 1", got)
	}

	r2()
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("after second release, ActiveCount = %d, want 0", got)
	}
}

func TestUploadLimiter_Timeout(t *testing.T) {
	limiter := NewUploadLimiter(1, 50*time.Millisecond)
	release, err := limiter.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = limiter.Acquire(context.Background())
	if !errors.Is(err, ErrTooManyUploads) {
		t.Errorf("Acquire error = %v, want ErrTooManyUploads", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Acquire returned after %v, expected to wait", elapsed)
	}
}

func TestUploadLimiter_ContextCancelled(t *testing.T) {
	limiter := NewUploadLimiter(1, time.Minute)
	release, _ := limiter.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire error = %v, want context.Canceled", err)
	}
}

func TestUploadLimiter_TryAcquire(t *testing.T) {
	gate := NewUploadLimiter(1, time.Millisecond)

	release, ok := gate.TryAcquire()
	if !ok {
		t.Fatal("first TryAcquire should succeed")
	}
	if _, ok := gate.TryAcquire(); ok {
		t.Fatal("second TryAcquire should fail while the slot is held")
	}

	release()
	release2, ok := gate.TryAcquire()
	if !ok {
		t.Fatal("TryAcquire should succeed after release")
	}
	release2()
}

func TestUploadLimiter_WaitForDrain(t *testing.T) {
	limiter := NewUploadLimiter(3, time.Second)

	if err := limiter.WaitForDrain(context.Background()); err != nil {
		t.Fatalf("WaitForDrain on idle limiter: %v", err)
	}

	var releases []func()
	for i := 0; i < 3; i++ {
		r, err := limiter.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		releases = append(releases, r)
	}

	var wg sync.WaitGroup
	for i, r := range releases {
		wg.Add(1)
		go func(d time.Duration, release func()) {
			defer wg.Done()
			time.Sleep(d)
			release()
		}(time.Duration(i+1)*10*time.Millisecond, r)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain error = %v", err)
	}
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after drain = %d, want 0", got)
	}
	wg.Wait()
}

func TestUploadLimiter_WaitForDrainTimeout(t *testing.T) {
	limiter := NewUploadLimiter(1, time.Second)
	release, _ := limiter.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.WaitForDrain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain error = %v, want DeadlineExceeded", err)
	}
}

func TestUploadLimiter_Status(t *testing.T) {
	limiter := NewUploadLimiter(4, time.Second)
	release, _ := limiter.Acquire(context.Background())
	defer release()

	st := limiter.Status()
	if st.Active != 1 || st.Available != 3 || st.MaxConcurrent != 4 {
		t.Errorf("Status = %+v", st)
	}
}

func TestNewUploadLimiter_Defaults(t *testing.T) {
	limiter := NewUploadLimiter(0, 0)
	if got := limiter.Status().MaxConcurrent; got != DefaultMaxConcurrentUploads {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentUploads)
	}
}
