package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/repository/memory"
	"github.com/vedran77/courier/internal/service"
)

type deliverFunc func(ctx context.Context, senderID, receiverID uuid.UUID, content domain.MessageContent) (*domain.Message, error)

func (f deliverFunc) SendMessage(ctx context.Context, senderID, receiverID uuid.UUID, content domain.MessageContent) (*domain.Message, error) {
	return f(ctx, senderID, receiverID, content)
}

func testConfig() Config {
	return Config{Interval: 20 * time.Millisecond, DeliveryTimeout: time.Second}
}

func addEntry(t *testing.T, store *memory.Store, sender, receiver uuid.UUID, at time.Time) *domain.ScheduledMessage {
	t.Helper()
	m := &domain.ScheduledMessage{
		ID:           uuid.New(),
		SenderID:     sender,
		ReceiverID:   receiver,
		Message:      "scheduled " + at.Format(time.RFC3339Nano),
		ScheduleTime: at,
		Status:       domain.ScheduledPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, store.ScheduledMessages().Create(context.Background(), m))
	return m
}

func statusOf(t *testing.T, store *memory.Store, id uuid.UUID) domain.ScheduledStatus {
	t.Helper()
	m, err := store.ScheduledMessages().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m.Status
}

func TestSweep_DeliversDueEntriesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	alice := domain.User{ID: uuid.New(), Name: "alice"}
	bob := domain.User{ID: uuid.New(), Name: "bob"}
	store.PutUser(alice)
	store.PutUser(bob)

	relay := service.NewRelayService(store.Users(), store.Conversations(), store.Messages(), nil)
	s, err := New(store.ScheduledMessages(), relay, nil, testConfig())
	require.NoError(t, err)

	due := addEntry(t, store, alice.ID, bob.ID, time.Now().Add(-time.Second))
	future := addEntry(t, store, alice.ID, bob.ID, time.Now().Add(time.Hour))

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 1, Sent: 1}, res)
	assert.Equal(t, domain.ScheduledSent, statusOf(t, store, due.ID))
	assert.Equal(t, domain.ScheduledPending, statusOf(t, store, future.ID))

	res, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	conv, err := store.Conversations().GetByPair(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	msgs, err := store.Messages().ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, due.Message, msgs[0].Text)
	assert.Equal(t, alice.ID, msgs[0].MsgByUserID)
}

func TestSweep_FailureIsIsolatedAndTerminal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	bad, good, receiver := uuid.New(), uuid.New(), uuid.New()

	var calls atomic.Int32
	relay := deliverFunc(func(_ context.Context, sender, _ uuid.UUID, _ domain.MessageContent) (*domain.Message, error) {
		calls.Add(1)
		if sender == bad {
			return nil, service.ErrUserNotFound
		}
		return &domain.Message{}, nil
	})
	s, err := New(store.ScheduledMessages(), relay, nil, testConfig())
	require.NoError(t, err)

	failing := addEntry(t, store, bad, receiver, time.Now().Add(-2*time.Second))
	passing := addEntry(t, store, good, receiver, time.Now().Add(-time.Second))

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 2, Sent: 1, Failed: 1}, res)
	assert.Equal(t, domain.ScheduledFailed, statusOf(t, store, failing.ID))
	assert.Equal(t, domain.ScheduledSent, statusOf(t, store, passing.ID))

	_, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "failed entries are not retried")
}

func TestSweep_DeliveryTimeoutMarksFailed(t *testing.T) {
	store := memory.NewStore()
	relay := deliverFunc(func(ctx context.Context, _, _ uuid.UUID, _ domain.MessageContent) (*domain.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := testConfig()
	cfg.DeliveryTimeout = 20 * time.Millisecond
	s, err := New(store.ScheduledMessages(), relay, nil, cfg)
	require.NoError(t, err)

	slow := addEntry(t, store, uuid.New(), uuid.New(), time.Now().Add(-time.Second))

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, domain.ScheduledFailed, statusOf(t, store, slow.ID))
}

func TestSweep_CancelledSweepLeavesEntriesPending(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	relay := deliverFunc(func(ctx context.Context, _, _ uuid.UUID, _ domain.MessageContent) (*domain.Message, error) {
		cancel()
		return nil, context.Canceled
	})
	s, err := New(store.ScheduledMessages(), relay, nil, testConfig())
	require.NoError(t, err)

	first := addEntry(t, store, uuid.New(), uuid.New(), time.Now().Add(-2*time.Second))
	second := addEntry(t, store, uuid.New(), uuid.New(), time.Now().Add(-time.Second))

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 2, Skipped: 2}, res)
	assert.Equal(t, domain.ScheduledPending, statusOf(t, store, first.ID))
	assert.Equal(t, domain.ScheduledPending, statusOf(t, store, second.ID))
}

func TestSweep_DoesNotOverlap(t *testing.T) {
	store := memory.NewStore()
	started := make(chan struct{})
	unblock := make(chan struct{})
	relay := deliverFunc(func(context.Context, uuid.UUID, uuid.UUID, domain.MessageContent) (*domain.Message, error) {
		close(started)
		<-unblock
		return &domain.Message{}, nil
	})
	s, err := New(store.ScheduledMessages(), relay, nil, testConfig())
	require.NoError(t, err)
	entry := addEntry(t, store, uuid.New(), uuid.New(), time.Now().Add(-time.Second))

	done := make(chan SweepResult)
	go func() {
		res, err := s.Sweep(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	<-started
	_, err = s.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(unblock)
	assert.Equal(t, 1, (<-done).Sent)
	assert.Equal(t, domain.ScheduledSent, statusOf(t, store, entry.ID))
}

func TestSweep_SkipsWhenLockHeldElsewhere(t *testing.T) {
	store := memory.NewStore()
	locker := NewLocalLocker()
	relay := deliverFunc(func(context.Context, uuid.UUID, uuid.UUID, domain.MessageContent) (*domain.Message, error) {
		t.Fatal("must not deliver without the lock")
		return nil, nil
	})
	s, err := New(store.ScheduledMessages(), relay, locker, testConfig())
	require.NoError(t, err)
	entry := addEntry(t, store, uuid.New(), uuid.New(), time.Now().Add(-time.Second))

	_, release, err := locker.Acquire(context.Background(), lockKey)
	require.NoError(t, err)

	_, err = s.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Equal(t, domain.ScheduledPending, statusOf(t, store, entry.ID))

	release()
	_, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduledSent, statusOf(t, store, entry.ID))
}

// revocableLocker always grants the lock and lets a test take it away while
// a sweep is running.
type revocableLocker struct {
	revoke context.CancelCauseFunc
}

func (l *revocableLocker) Acquire(ctx context.Context, _ string) (context.Context, Release, error) {
	lockCtx, cancel := context.WithCancelCause(ctx)
	l.revoke = cancel
	return lockCtx, func() { cancel(nil) }, nil
}

func TestSweep_LostLockStopsDelivery(t *testing.T) {
	store := memory.NewStore()
	locker := &revocableLocker{}

	var calls atomic.Int32
	relay := deliverFunc(func(context.Context, uuid.UUID, uuid.UUID, domain.MessageContent) (*domain.Message, error) {
		calls.Add(1)
		locker.revoke(ErrLockLost)
		return &domain.Message{}, nil
	})
	s, err := New(store.ScheduledMessages(), relay, locker, testConfig())
	require.NoError(t, err)

	first := addEntry(t, store, uuid.New(), uuid.New(), time.Now().Add(-3*time.Second))
	second := addEntry(t, store, uuid.New(), uuid.New(), time.Now().Add(-2*time.Second))
	third := addEntry(t, store, uuid.New(), uuid.New(), time.Now().Add(-time.Second))

	res, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrLockLost)
	assert.Equal(t, SweepResult{Due: 3, Sent: 1, Skipped: 2}, res)
	assert.Equal(t, int32(1), calls.Load(), "no delivery after the lock is gone")

	assert.Equal(t, domain.ScheduledSent, statusOf(t, store, first.ID))
	assert.Equal(t, domain.ScheduledPending, statusOf(t, store, second.ID))
	assert.Equal(t, domain.ScheduledPending, statusOf(t, store, third.ID))
}

func TestSweep_LockLostDuringDeliveryLeavesEntryPending(t *testing.T) {
	store := memory.NewStore()
	locker := &revocableLocker{}

	relay := deliverFunc(func(ctx context.Context, _, _ uuid.UUID, _ domain.MessageContent) (*domain.Message, error) {
		locker.revoke(ErrLockLost)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s, err := New(store.ScheduledMessages(), relay, locker, testConfig())
	require.NoError(t, err)

	entry := addEntry(t, store, uuid.New(), uuid.New(), time.Now().Add(-time.Second))

	res, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrLockLost)
	assert.Equal(t, SweepResult{Due: 1, Skipped: 1}, res)
	assert.Equal(t, domain.ScheduledPending, statusOf(t, store, entry.ID))
}

func TestSweep_StoreFailure(t *testing.T) {
	s, err := New(failingStore{}, deliverFunc(nil), nil, testConfig())
	require.NoError(t, err)

	_, err = s.Sweep(context.Background())
	assert.ErrorIs(t, err, service.ErrStorage)
}

type failingStore struct{ *memory.ScheduledRepo }

func (failingStore) ListDue(context.Context, time.Time, int) ([]domain.ScheduledMessage, error) {
	return nil, errors.New("connection refused")
}

func TestRun_ScheduledMessageDeliveredAfterDueTime(t *testing.T) {
	store := memory.NewStore()
	alice := domain.User{ID: uuid.New(), Name: "alice"}
	bob := domain.User{ID: uuid.New(), Name: "bob"}
	store.PutUser(alice)
	store.PutUser(bob)

	relay := service.NewRelayService(store.Users(), store.Conversations(), store.Messages(), nil)
	schedules := service.NewScheduleService(store.ScheduledMessages(), store.Users())
	s, err := New(store.ScheduledMessages(), relay, nil, testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error)
	go func() { stopped <- s.Run(ctx) }()

	entry, err := schedules.Schedule(ctx, alice.ID, service.ScheduleInput{
		ReceiverID:   bob.ID,
		Message:      "see you soon",
		ScheduleTime: time.Now().Add(300 * time.Millisecond),
	})
	require.NoError(t, err)

	list, err := schedules.ListBySender(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.ScheduledPending, list[0].Status)

	require.Eventually(t, func() bool {
		list, err := schedules.ListBySender(ctx, alice.ID)
		return err == nil && len(list) == 1 && list[0].Status == domain.ScheduledSent
	}, 5*time.Second, 20*time.Millisecond)

	view, err := relay.OpenConversationView(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, entry.Message, view.Messages[0].Text)
	assert.False(t, view.Messages[0].CreatedAt.Before(entry.ScheduleTime), "never delivered early")

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, nil, Config{Cron: "not a cron"})
	assert.Error(t, err)

	_, err = New(nil, nil, nil, Config{})
	assert.Error(t, err)

	_, err = New(nil, nil, nil, Config{Interval: time.Second})
	assert.Error(t, err, "zero delivery timeout would fail every entry")

	_, err = New(nil, nil, nil, Config{Interval: time.Second, DeliveryTimeout: -time.Second})
	assert.Error(t, err)

	_, err = New(nil, nil, nil, Config{Interval: time.Second, DeliveryTimeout: time.Second, BatchSize: -1})
	assert.Error(t, err)

	s, err := New(nil, nil, nil, Config{Cron: "* * * * *", DeliveryTimeout: time.Second})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC) }
	wait, err := s.nextWait()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, wait)
}
