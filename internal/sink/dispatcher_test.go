package sink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/ddosguard/internal/models"
)

type recordingSink struct {
	name string
	err  error
	mu   sync.Mutex
	logs []*models.DetectionLog
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Append(_ context.Context, log *models.DetectionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

func TestDispatcher_FanoutReachesEverySink(t *testing.T) {
	d := NewDispatcher(8, time.Second, zap.NewNop(), nil)

	ok := &recordingSink{name: "postgres"}
	failing := &recordingSink{name: "redis", err: errors.New("connection refused")}
	log := &models.DetectionLog{AttackType: "Syn (0.91)"}

	d.Fanout(log, ok, failing)
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())
	assert.Same(t, log, ok.logs[0])
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, time.Second, zap.NewNop(), nil)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Submit("slow", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	err := d.Submit("slow", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_TaskTimeout(t *testing.T) {
	d := NewDispatcher(1, 20*time.Millisecond, zap.NewNop(), nil)

	var deadlineHit atomic.Bool
	require.NoError(t, d.Submit("hang", func(ctx context.Context) error {
		<-ctx.Done()
		deadlineHit.Store(true)
		return ctx.Err()
	}))

	require.NoError(t, d.Close(context.Background()))
	assert.True(t, deadlineHit.Load())
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := NewDispatcher(2, time.Second, zap.NewNop(), nil)

	require.NoError(t, d.Submit("bad", func(ctx context.Context) error { panic("boom") }))
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := NewDispatcher(2, time.Second, zap.NewNop(), nil)
	require.NoError(t, d.Close(context.Background()))

	err := d.Submit("late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_CloseHonorsContext(t *testing.T) {
	d := NewDispatcher(1, time.Minute, zap.NewNop(), nil)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, d.Submit("stuck", func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}
