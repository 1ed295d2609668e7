package ready

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	apperrors "github.com/crollins/webdap/internal/errors"
)

// TestWait_ReadyOnFirstAttempt verifies no delay is taken when the target is
// already up.
func TestWait_ReadyOnFirstAttempt(t *testing.T) {
	calls := 0
	p := &Poller{
		Probe:    func(ctx context.Context) bool { calls++; return true },
		Attempts: 5,
		Interval: time.Hour,
		Clock:    clock.NewMock(),
	}

	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 probe call, got %d", calls)
	}
}

// TestWait_SucceedsMidBudget verifies polling stops as soon as the probe
// turns true.
func TestWait_SucceedsMidBudget(t *testing.T) {
	calls := 0
	p := &Poller{
		Probe:    func(ctx context.Context) bool { calls++; return calls >= 3 },
		Attempts: 10,
		Interval: time.Millisecond,
	}

	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 probe calls, got %d", calls)
	}
}

// TestWait_BudgetExhausted verifies the attempt budget is honored exactly
// and the terminal error identifies the readiness failure.
func TestWait_BudgetExhausted(t *testing.T) {
	calls := 0
	p := &Poller{
		Probe:    func(ctx context.Context) bool { calls++; return false },
		Attempts: 4,
		Interval: time.Millisecond,
	}

	err := p.Wait(context.Background())
	if err == nil {
		t.Fatal("expected error after budget exhaustion")
	}
	if !apperrors.HasCode(err, apperrors.CodeTargetNotReady) {
		t.Errorf("expected TARGET_NOT_READY, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 probe calls, got %d", calls)
	}
}

// TestWait_NoTrailingDelay verifies the final failed attempt returns
// immediately instead of sleeping one more interval.
func TestWait_NoTrailingDelay(t *testing.T) {
	p := &Poller{
		Probe:    func(ctx context.Context) bool { return false },
		Attempts: 1,
		Interval: time.Hour,
		Clock:    clock.NewMock(),
	}

	done := make(chan error, 1)
	go func() { done <- p.Wait(context.Background()) }()

	select {
	case err := <-done:
		if !apperrors.HasCode(err, apperrors.CodeTargetNotReady) {
			t.Errorf("expected TARGET_NOT_READY, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait blocked on the interval after the last attempt")
	}
}

// TestWait_CanceledBetweenAttempts verifies cancellation wins over the
// inter-attempt delay.
func TestWait_CanceledBetweenAttempts(t *testing.T) {
	probed := make(chan struct{}, 10)
	p := &Poller{
		Probe: func(ctx context.Context) bool {
			probed <- struct{}{}
			return false
		},
		Attempts: 5,
		Interval: time.Hour,
		Clock:    clock.NewMock(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Wait(ctx) }()

	<-probed
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not observe cancellation")
	}
}

// TestWait_MockClockPacing verifies each retry waits a full interval on the
// injected clock.
func TestWait_MockClockPacing(t *testing.T) {
	clk := clock.NewMock()
	probed := make(chan int, 10)
	calls := 0
	p := &Poller{
		Probe: func(ctx context.Context) bool {
			calls++
			probed <- calls
			return calls >= 2
		},
		Attempts: 5,
		Interval: 10 * time.Second,
		Clock:    clk,
	}

	done := make(chan error, 1)
	go func() { done <- p.Wait(context.Background()) }()

	<-probed
	// Give Wait a moment to arm the timer before advancing the clock.
	time.Sleep(10 * time.Millisecond)
	clk.Add(10 * time.Second)

	<-probed
	if err := <-done; err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 probe calls, got %d", calls)
	}
}
