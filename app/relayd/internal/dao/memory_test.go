package dao

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soportek/remotectl/app/relayd/internal/model"
)

func newSession(id, ticketID string, state model.State) *model.Session {
	now := time.Now().UTC()
	return &model.Session{
		ID:         id,
		TicketID:   ticketID,
		OperatorID: "op-1",
		ClientID:   "cl-1",
		State:      state,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryStore_OneLiveSessionPerTicket(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, newSession("s1", "t1", model.StateRequested)))

	// 同一工单存在活跃会话时再次创建必须失败
	err := store.Create(ctx, newSession("s2", "t1", model.StateRequested))
	assert.ErrorIs(t, err, ErrTicketBusy)

	// 其他工单不受影响
	require.NoError(t, store.Create(ctx, newSession("s3", "t2", model.StateRequested)))

	// 结束后同一工单可以再开
	_, _, err = store.Finish(ctx, "s1", model.EndReasonCompleted)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, newSession("s4", "t1", model.StateRequested)))
}

func TestMemoryStore_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// 并发抢同一工单，只能有一个成功
	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Create(ctx, newSession(fmt.Sprintf("s%d", i), "t1", model.StateRequested))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, ErrTicketBusy)
		}
	}
	assert.Equal(t, 1, created)
}

func TestMemoryStore_TransitionCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newSession("s1", "t1", model.StateRequested)))

	out, err := store.Transition(ctx, "s1", model.StateRequested, model.StateAccepted, "")
	require.NoError(t, err)
	assert.Equal(t, model.StateAccepted, out.State)

	// 旧状态不匹配时失败且不改变记录
	_, err = store.Transition(ctx, "s1", model.StateRequested, model.StateAccepted, "")
	assert.ErrorIs(t, err, ErrStaleState)

	cur, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAccepted, cur.State)

	_, err = store.Transition(ctx, "missing", model.StateRequested, model.StateAccepted, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_FinishIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newSession("s1", "t1", model.StateActive)))

	out, first, err := store.Finish(ctx, "s1", model.EndReasonCompleted)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, model.StateFinished, out.State)
	assert.Equal(t, model.EndReasonCompleted, out.EndReason)

	// 二次结束不得覆盖原因，且不再报告首次写入
	out, first, err = store.Finish(ctx, "s1", model.EndReasonTimeout)
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, model.EndReasonCompleted, out.EndReason)
}

func TestMemoryStore_Touch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	old := newSession("s1", "t1", model.StateActive)
	old.UpdatedAt = time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, store.Create(ctx, old))

	// 刷新后不再被视为过期
	require.NoError(t, store.Touch(ctx, "s1"))
	stale, err := store.ListStaleLive(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)

	// 已结束的会话不动
	_, _, err = store.Finish(ctx, "s1", model.EndReasonCompleted)
	require.NoError(t, err)
	before, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.Touch(ctx, "s1"))
	after, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	assert.ErrorIs(t, store.Touch(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_ListStaleLive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	old := newSession("s1", "t1", model.StateActive)
	old.UpdatedAt = time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, store.Create(ctx, old))

	fresh := newSession("s2", "t2", model.StateActive)
	require.NoError(t, store.Create(ctx, fresh))

	finished := newSession("s3", "t3", model.StateFinished)
	finished.UpdatedAt = time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, store.Create(ctx, finished))

	stale, err := store.ListStaleLive(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "s1", stale[0].ID)
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newSession("s1", "t1", model.StateRequested)))

	// 返回的是副本，外部修改不得影响存储
	got, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	got.State = model.StateFinished

	cur, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StateRequested, cur.State)
}
