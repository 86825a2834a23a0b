package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDenied is the stable error returned when a confirmation port declines
// a tool call requiring confirmation.
var ErrDenied = errors.New("denied by user")

// ErrCancelled is the stable error surfaced when a tool invocation is
// cancelled before or during execution.
var ErrCancelled = errors.New("cancelled")

// ConfirmRequest carries the fields passed through the confirmation port.
type ConfirmRequest struct {
	Operation string
	Target    string
	Preview   string
}

// ConfirmResponse is the confirmation port's answer.
type ConfirmResponse struct {
	Confirmed bool
	Feedback  string
}

// ConfirmFunc is the Confirmation Port: confirm({operation, target, preview})
// -> {confirmed, feedback?}. A nil ConfirmFunc auto-approves every call.
type ConfirmFunc func(req ConfirmRequest) (ConfirmResponse, error)

// Invoke implements the C1 invoker contract: validate(args) first; on
// failure return a failure Result without calling Execute. If the tool
// requires confirmation, consult confirm before executing; a decline
// yields a stable "denied by user" failure. Execution is cancellable via
// ctx; on cancellation the result is a failure with error="cancelled".
// durationMs is always set. A panic inside Execute is recovered and turned
// into a failure Result rather than crashing the caller's goroutine.
func Invoke(ctx context.Context, t Tool, callID string, args map[string]any, confirm ConfirmFunc, onUpdate UpdateFn) (res Result, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("tool %q panicked: %v", t.Definition().Name, r)
			res = failureResult(perr.Error(), time.Since(start))
			err = perr
		}
	}()

	coerced, verr := ValidateAndCoerce(t, args)
	if verr != nil {
		return failureResult(verr.Error(), time.Since(start)), verr
	}

	meta := t.Metadata()
	if meta.RequiresConfirmation {
		fn := confirm
		if fn == nil {
			fn = AutoApprove
		}
		resp, err := fn(ConfirmRequest{
			Operation: t.Definition().Name,
			Target:    callID,
		})
		if err != nil {
			return failureResult(err.Error(), time.Since(start)), err
		}
		if !resp.Confirmed {
			return failureResult(ErrDenied.Error(), time.Since(start)), ErrDenied
		}
	}

	if err := ctx.Err(); err != nil {
		return failureResult(ErrCancelled.Error(), time.Since(start)), ErrCancelled
	}

	res, err := t.Execute(ctx, callID, coerced, onUpdate)
	if ctx.Err() != nil {
		return failureResult(ErrCancelled.Error(), time.Since(start)), ErrCancelled
	}
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Success = false
		if res.Error == "" {
			res.Error = err.Error()
		}
		return res, err
	}
	// Tools built before Result.Success existed return zero-value Results
	// from bespoke construction; TextResult/ErrorResult already set it
	// correctly, so only default to true when the tool reported no error.
	if res.Error == "" {
		res.Success = true
	}
	return res, nil
}

// AutoApprove is the default ConfirmFunc used when no confirmation port is
// configured: every request is confirmed.
func AutoApprove(ConfirmRequest) (ConfirmResponse, error) {
	return ConfirmResponse{Confirmed: true}, nil
}

func failureResult(errMsg string, dur time.Duration) Result {
	return Result{
		Success:    false,
		Error:      errMsg,
		DurationMs: dur.Milliseconds(),
	}
}
