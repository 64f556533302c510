package store

import (
	"context"
	"os"
	"testing"
	"time"

	"geo-survey/internal/geo"
	"geo-survey/internal/survey"
	"geo-survey/internal/tasks"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestRedis：连接 REDIS_TEST_ADDR，未设置时跳过
func openTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rc := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rc.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func cacheOnlyStore(t *testing.T) (*Store, string) {
	t.Helper()
	rc := openTestRedis(t)
	id := "cache-" + uuid.NewString()
	t.Cleanup(func() { rc.Del(context.Background(), sessionKey(id), sessionGenKey(id)) })
	return AttachDB(nil, tasks.Default()).WithRedis(rc, time.Minute), id
}

func TestCacheFillWhenGenerationUnchanged(t *testing.T) {
	st, id := cacheOnlyStore(t)
	ctx := context.Background()

	gen, ok := st.cacheGen(ctx, id)
	require.True(t, ok)
	sess := survey.Session{ID: id, CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), Results: []survey.StoredResult{}}
	st.cacheSet(ctx, sess, gen)

	got, ok := st.cacheGet(ctx, id)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
	assert.True(t, sess.CreatedAt.Equal(got.CreatedAt))
}

func TestCacheFillAfterInvalidationIsDropped(t *testing.T) {
	st, id := cacheOnlyStore(t)
	ctx := context.Background()

	// 读路径先取代数并查库；写路径随后提交并失效；读路径最后回填旧值
	gen, ok := st.cacheGen(ctx, id)
	require.True(t, ok)
	stale := survey.Session{ID: id, Results: []survey.StoredResult{}}
	st.cacheDrop(ctx, id)
	st.cacheSet(ctx, stale, gen)

	_, ok = st.cacheGet(ctx, id)
	assert.False(t, ok)

	// 新代数下的回填正常生效
	gen, ok = st.cacheGen(ctx, id)
	require.True(t, ok)
	assert.EqualValues(t, 1, gen)
	st.cacheSet(ctx, stale, gen)
	_, ok = st.cacheGet(ctx, id)
	assert.True(t, ok)
}

func TestCacheDropClearsValue(t *testing.T) {
	st, id := cacheOnlyStore(t)
	ctx := context.Background()

	st.cacheSet(ctx, survey.Session{ID: id}, 0)
	_, ok := st.cacheGet(ctx, id)
	require.True(t, ok)

	st.cacheDrop(ctx, id)
	_, ok = st.cacheGet(ctx, id)
	assert.False(t, ok)
	ttl, err := st.rc.TTL(ctx, sessionGenKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestSubscribeReceivesPublishedIDs(t *testing.T) {
	st, id := cacheOnlyStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := st.Subscribe(ctx)
	require.NoError(t, err)
	st.publish(ctx, id)

	select {
	case got := <-ch:
		assert.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	cancel()
	for range ch {
	}
}

func TestGetSessionSeesUpsertThroughCache(t *testing.T) {
	st := openTestStore(t)
	rc := openTestRedis(t)
	st.WithRedis(rc, time.Minute)
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() {
		_ = st.DeleteSession(context.Background(), id)
		rc.Del(context.Background(), sessionGenKey(id))
	})

	require.NoError(t, st.UpsertResult(ctx, id, 5, survey.MarkerPayload{Markers: geo.MarkerSet{{Position: geo.LatLng{Lat: 55.8, Lng: 37.3}, Label: "old"}}}))
	_, ok, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	_, cached := st.cacheGet(ctx, id)
	require.True(t, cached)

	require.NoError(t, st.UpsertResult(ctx, id, 5, survey.MarkerPayload{Markers: geo.MarkerSet{{Position: geo.LatLng{Lat: 55.9, Lng: 37.4}, Label: "new"}}}))
	tr, ok, err := st.GetResult(ctx, id, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", tr.Payload.(survey.MarkerPayload).Markers[0].Label)
}
