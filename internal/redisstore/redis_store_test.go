package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
	"github.com/roach88/sopsync/internal/testutil"
)

func setupTestRedis(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url")
	assert.Error(t, err)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	_, err := NewRedisStore("redis://" + addr)
	assert.Error(t, err)
}

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t)

	_, found, err := store.Get(ctx, "sop:default:4")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "sop:default:4", []byte(`{"farm_name":"A"}`)))

	data, found, err := store.Get(ctx, "sop:default:4")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"farm_name":"A"}`, string(data))

	raw, err := mr.Get("sopsync:snapshot:sop:default:4")
	require.NoError(t, err)
	assert.Equal(t, `{"farm_name":"A"}`, raw)
}

func TestSet_TTL(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t, WithTTL(time.Minute), WithPrefix("t:"))

	require.NoError(t, store.Set(ctx, "k", []byte(`{}`)))
	assert.Equal(t, time.Minute, mr.TTL("t:snapshot:k"))

	mr.FastForward(2 * time.Minute)
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestChanges(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestRedis(t)

	changes := []formstate.Change{
		{Seq: 1, Key: "k", Source: formstate.SourcePrefill, FieldID: "farm_name", Value: form.Scalar("GA")},
		{Seq: 2, Key: "k", Source: formstate.SourceAssistant, FieldID: "hazards", Value: form.List("Feed", "Visitors")},
		{Seq: 3, Key: "k", Source: formstate.SourceUser, FieldID: "farm_name", Value: form.Empty()},
	}
	for _, c := range changes {
		require.NoError(t, store.RecordChange(ctx, c))
	}

	got, err := store.ReadChanges(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, changes, got)

	empty, err := store.ReadChanges(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLastSeq(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t, WithPrefix("t:"))

	last, err := store.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	for _, seq := range []int64{4, 9, 7} {
		require.NoError(t, store.RecordChange(ctx, formstate.Change{Seq: seq, Key: "k", Source: formstate.SourceUser, FieldID: "f", Value: form.Scalar("v")}))
	}

	last, err = store.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), last)

	raw, err := mr.Get("t:seq")
	require.NoError(t, err)
	assert.Equal(t, "9", raw)
}

func TestLastSeq_SurvivesDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestRedis(t)

	require.NoError(t, store.RecordChange(ctx, formstate.Change{Seq: 3, Key: "k", Source: formstate.SourceUser, FieldID: "f", Value: form.Scalar("v")}))
	require.NoError(t, store.Delete(ctx, "k"))

	last, err := store.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t)

	require.NoError(t, store.Set(ctx, "k", []byte(`{}`)))
	require.NoError(t, store.RecordChange(ctx, formstate.Change{Seq: 1, Key: "k", Source: formstate.SourceUser, FieldID: "f", Value: form.Scalar("v")}))
	require.NoError(t, store.Delete(ctx, "k"))

	assert.False(t, mr.Exists("sopsync:snapshot:k"))
	assert.False(t, mr.Exists("sopsync:history:k"))
}

func TestRedisStore_BacksFormState(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestRedis(t)
	tmpl := testutil.AnimalHealthTemplate()

	fs := formstate.Open(ctx, &tmpl, "sop:default:5", store, formstate.WithRecorder(store))
	fs.ApplyMerge(ctx, formstate.SourceAssistant, form.Partial{"treatments": form.List("Vaccination")})
	require.NoError(t, fs.ApplyUserEdit(ctx, "vet_name", form.Scalar("Dr. Lee")))

	reopened := formstate.Open(ctx, &tmpl, "sop:default:5", store)
	assert.Equal(t, fs.Snapshot(), reopened.Snapshot())

	history, err := store.ReadChanges(ctx, "sop:default:5")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRedisStore_OutageIsBestEffort(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t)
	tmpl := testutil.AnimalHealthTemplate()

	fs := formstate.Open(ctx, &tmpl, "sop:default:5", store)
	mr.Close()

	require.NoError(t, fs.ApplyUserEdit(ctx, "vet_name", form.Scalar("Dr. Lee")))
	assert.Equal(t, form.Scalar("Dr. Lee"), fs.Value("vet_name"))
	assert.Equal(t, 1, fs.PersistErrors())
}
