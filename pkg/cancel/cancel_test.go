package cancel_test

import (
	"context"
	"testing"
	"time"

	"github.com/carbon-run/agentcore/pkg/cancel"
)

func TestToken_CancelWithReason(t *testing.T) {
	tok, stop := cancel.New(context.Background())
	defer stop()

	if tok.Cancelled() {
		t.Fatal("token should not be cancelled yet")
	}

	tok.CancelWithReason("user abort")

	if !tok.Cancelled() {
		t.Fatal("token should be cancelled")
	}
	if got := tok.Reason(); got != "user abort" {
		t.Errorf("reason = %q, want %q", got, "user abort")
	}
}

func TestToken_FirstReasonSticks(t *testing.T) {
	tok, stop := cancel.New(context.Background())
	defer stop()

	tok.CancelWithReason("first")
	tok.CancelWithReason("second")

	if got := tok.Reason(); got != "first" {
		t.Errorf("reason = %q, want %q", got, "first")
	}
}

func TestWithTimeout_FiresReason(t *testing.T) {
	tok, stop := cancel.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()

	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
	if got := tok.Reason(); got != "timeout" {
		t.Errorf("reason = %q, want %q", got, "timeout")
	}
}

func TestWithTimeout_StopPreventsReason(t *testing.T) {
	tok, stop := cancel.WithTimeout(context.Background(), 50*time.Millisecond)
	stop()

	time.Sleep(100 * time.Millisecond)
	if tok.Reason() != "" {
		t.Errorf("reason = %q, want empty after stop", tok.Reason())
	}
}
