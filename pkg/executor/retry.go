package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/softwarewrighter/ui-test/pkg/protocol"
	"github.com/softwarewrighter/ui-test/pkg/suite"
)

// retry runs op until it succeeds, fails permanently, or the retry budget
// is spent. Each attempt gets its own ActionTimeout.
func (r *run) retry(ctx context.Context, s suite.Step, op func(context.Context) error) error {
	newBackOff := r.e.Backoff
	if newBackOff == nil {
		newBackOff = DefaultBackOff
	}
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(r.e.retries())), ctx)
	actionTimeout := orDefault(r.e.ActionTimeout, DefaultActionTimeout)

	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		r.attempts++
		actx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()
		err := op(actx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !r.transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("retrying", "action", s.Describe(), "err", err, "in", wait)
		if r.e.OnRetry != nil {
			r.e.OnRetry(r.tc, s, err, wait)
		}
	}
	return backoff.RetryNotify(attempt, b, notify)
}

// transient reports whether err is worth another attempt: a timed-out
// request, or a closed connection the browser cannot confirm is gone for good.
func (r *run) transient(err error) bool {
	if errors.Is(err, protocol.ErrTimeout) {
		return true
	}
	if !errors.Is(err, protocol.ErrConnectionClosed) {
		return false
	}
	if d, ok := r.e.Browser.(interface{ Done() <-chan struct{} }); ok {
		select {
		case <-d.Done():
			return false
		default:
		}
	}
	return true
}
