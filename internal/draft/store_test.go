package draft

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, 0), s
}

func TestRedisStore_SaveLoadDelete(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := store.Load(ctx, user)
	assert.ErrorIs(t, err, ErrNoDraft)

	m := newMachine()
	require.NoError(t, m.Next(validBasic()))
	require.NoError(t, store.Save(ctx, user, m.Snapshot()))

	assert.Equal(t, DefaultTTL, mr.TTL(draftKey(user)))

	snap, err := store.Load(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StepLocationDate, snap.Step)
	assert.Equal(t, "$200", snap.BasicInfo.Budget)

	require.NoError(t, store.Delete(ctx, user))
	_, err = store.Load(ctx, user)
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestRedisStore_Expires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, store.Save(ctx, user, newMachine().Snapshot()))
	mr.FastForward(DefaultTTL + time.Second)

	_, err := store.Load(ctx, user)
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestRedisStore_RejectsSubmitted(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Save(context.Background(), uuid.New(), Snapshot{Step: StepConfirmation})
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	store, mr := newTestStore(t)
	user := uuid.New()
	require.NoError(t, mr.Set(draftKey(user), "{not json"))

	_, err := store.Load(context.Background(), user)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDraft)
}
