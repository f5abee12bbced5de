package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestExponentialDelay(t *testing.T) {
	policy := DefaultExponential()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialUncappedSaturates(t *testing.T) {
	tests := []struct {
		policy  Exponential
		attempt int
		want    time.Duration
	}{
		{Exponential{Base: time.Second}, 200, time.Duration(math.MaxInt64)},
		{Exponential{Base: time.Second}, 5000, time.Duration(math.MaxInt64)},
		{Exponential{}, 5000, 0},
	}
	for _, tt := range tests {
		if got := tt.policy.Delay(tt.attempt); got != tt.want {
			t.Errorf("%+v Delay(%d) = %v, want %v", tt.policy, tt.attempt, got, tt.want)
		}
	}

	jittered := &Exponential{Base: time.Second, Jitter: 0.5}
	for range 50 {
		if d := jittered.Delay(5000); d < time.Duration(math.MaxInt64/2) {
			t.Fatalf("jittered delay fell to %v", d)
		}
	}
}

func TestExponentialJitterStaysInRange(t *testing.T) {
	policy := &Exponential{Base: 100 * time.Millisecond, Jitter: 0.5, Tries: 3}
	for i := 0; i < 50; i++ {
		d := policy.Delay(2)
		if d < 100*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms, 300ms]", d)
		}
	}
}

func TestLinearDefaults(t *testing.T) {
	policy := DefaultLinear()
	if policy.MaxTries() != 5 {
		t.Errorf("expected 5 tries, got %d", policy.MaxTries())
	}
	if policy.Delay(1) != policy.Delay(4) {
		t.Error("linear delay should not grow")
	}
}

func TestDoAlwaysFailing(t *testing.T) {
	policy := &Exponential{Base: time.Millisecond, Tries: 3}
	calls := 0

	err := Do(context.Background(), policy, func(context.Context) error {
		calls++
		return fmt.Errorf("failure %d", calls)
	})

	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if err == nil || err.Error() != "failure 3" {
		t.Errorf("expected last error verbatim, got %v", err)
	}
}

func TestDoValueSucceedsOnThirdAttempt(t *testing.T) {
	policy := &Exponential{Base: time.Millisecond, Tries: 3}
	calls := 0

	v, err := DoValue(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if v != "ok" {
		t.Errorf("expected ok, got %q", v)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoRetriesEveryErrorKind(t *testing.T) {
	policy := &Linear{Interval: time.Millisecond, Tries: 4}
	calls := 0

	err := Do(context.Background(), policy, func(context.Context) error {
		calls++
		return errors.New("invalid request")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDoContextCancelledDuringWait(t *testing.T) {
	policy := &Linear{Interval: time.Hour, Tries: 5}
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")

	var notified int
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, func(context.Context) error {
		return boom
	}, WithNotify(func(int, error, time.Duration) { notified++ }))

	if !errors.Is(err, boom) {
		t.Errorf("expected the action's error, got %v", err)
	}
	if notified != 1 {
		t.Errorf("expected 1 notification, got %d", notified)
	}
}
