package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chapel/internal/apperr"
	"chapel/internal/queue"
	"chapel/internal/warning"
)

type fakeGenerator struct {
	mu    sync.Mutex
	errs  []error
	calls []string
}

func (f *fakeGenerator) Generate(_ context.Context, weekStart string, _ int) (warning.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, weekStart)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return warning.Result{}, err
		}
	}
	return warning.Result{WeekStart: weekStart}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func job(t *testing.T, attempt int) queue.Message {
	t.Helper()
	msg, err := queue.EncodeGenerateWarnings(queue.GenerateWarnings{WeekStart: "2024-02-05", Threshold: 2, Attempt: attempt})
	require.NoError(t, err)
	return msg
}

// next returns the next queued message, or false if none arrives shortly.
func next(t *testing.T, q queue.Queue) (queue.Message, bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-ch:
		return msg, true
	case <-time.After(100 * time.Millisecond):
		return queue.Message{}, false
	}
}

var errConnReset = errors.New("connection reset by peer")

func TestHandleDispositions(t *testing.T) {
	tests := []struct {
		name        string
		msg         func(t *testing.T) queue.Message
		err         error
		want        Disposition
		wantAttempt int // attempt of the re-queued job, -1 when nothing is re-queued
	}{
		{name: "success", msg: func(t *testing.T) queue.Message { return job(t, 0) }, want: Done, wantAttempt: -1},
		{name: "retryable failure is re-queued", msg: func(t *testing.T) queue.Message { return job(t, 0) }, err: apperr.DB("load versions", errConnReset), want: Retried, wantAttempt: 1},
		{name: "retryable failure keeps counting", msg: func(t *testing.T) queue.Message { return job(t, 1) }, err: apperr.DB("apply", errConnReset), want: Retried, wantAttempt: 2},
		{name: "retryable failure out of attempts", msg: func(t *testing.T) queue.Message { return job(t, 2) }, err: apperr.DB("apply", errConnReset), want: Dropped, wantAttempt: -1},
		{name: "validation is terminal", msg: func(t *testing.T) queue.Message { return job(t, 0) }, err: apperr.Validation("generate", "threshold must be at least 1"), want: Dropped, wantAttempt: -1},
		{name: "run in progress is terminal", msg: func(t *testing.T) queue.Message { return job(t, 0) }, err: apperr.InvalidState("generate", "week already running"), want: Dropped, wantAttempt: -1},
		{name: "unknown type", msg: func(*testing.T) queue.Message { return queue.Message{Type: "reindex"} }, want: Dropped, wantAttempt: -1},
		{name: "malformed body", msg: func(*testing.T) queue.Message {
			return queue.Message{Type: queue.TypeGenerateWarnings, Body: json.RawMessage(`"nope"`)}
		}, want: Dropped, wantAttempt: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.NewInMemory(4)
			gen := &fakeGenerator{errs: []error{tt.err}}
			r := New(gen, q, zap.NewNop(), WithRetry(3, 0))

			got := r.Handle(context.Background(), tt.msg(t))
			r.wg.Wait()
			assert.Equal(t, tt.want, got)

			requeued, ok := next(t, q)
			if tt.wantAttempt < 0 {
				assert.False(t, ok, "nothing should be re-queued")
				return
			}
			require.True(t, ok, "job should be re-queued")
			j, err := queue.DecodeGenerateWarnings(requeued)
			require.NoError(t, err)
			assert.Equal(t, queue.GenerateWarnings{WeekStart: "2024-02-05", Threshold: 2, Attempt: tt.wantAttempt}, j)
		})
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	q := queue.NewInMemory(4)
	gen := &fakeGenerator{errs: []error{apperr.DB("apply", errConnReset), apperr.DB("apply", errConnReset), nil}}
	r := New(gen, q, zap.NewNop(), WithRetry(5, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, job(t, 0)))
	assert.Eventually(t, func() bool { return gen.callCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, 3, gen.callCount())
}

func TestRunDropsTerminalFailure(t *testing.T) {
	q := queue.NewInMemory(4)
	gen := &fakeGenerator{errs: []error{apperr.Validation("generate", "bad week")}}
	r := New(gen, q, zap.NewNop(), WithRetry(5, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, job(t, 0)))
	assert.Eventually(t, func() bool { return gen.callCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return gen.callCount() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}
