package store

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"geo-survey/internal/geo"
	"geo-survey/internal/migrate"
	"geo-survey/internal/survey"
	"geo-survey/internal/tasks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore：连接 PG_TEST_DSN，未设置时跳过
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, migrate.EnsureSchema(db))
	t.Cleanup(func() { _ = db.Close() })
	return AttachDB(db, tasks.Default())
}

func ring(lat float64) geo.Ring {
	return geo.Ring{{Lat: lat, Lng: 37.30}, {Lat: lat + 0.05, Lng: 37.30}, {Lat: lat + 0.05, Lng: 37.40}}
}

func TestUpsertReplacesSameTask(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	sid := uuid.NewString()
	t.Cleanup(func() { _ = st.DeleteSession(ctx, sid) })

	first := survey.PolygonPayload{Rings: geo.PolygonSet{ring(55.80)}}
	second := survey.PolygonPayload{Rings: geo.PolygonSet{ring(55.90), ring(55.70)}}
	require.NoError(t, st.UpsertResult(ctx, sid, 1, first))
	require.NoError(t, st.UpsertResult(ctx, sid, 1, second))

	sess, ok, err := st.GetSession(ctx, sid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sess.Results, 1)

	tr, ok, err := st.GetResult(ctx, sid, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, tr.Payload)
}

func TestUpsertRejectsKindMismatch(t *testing.T) {
	st := openTestStore(t)
	err := st.UpsertResult(context.Background(), uuid.NewString(), 5, survey.PolygonPayload{Rings: geo.PolygonSet{ring(55.8)}})
	assert.ErrorIs(t, err, survey.ErrKindMismatch)
}

func TestEnsureSessionKeepsCreatedAt(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	sid := uuid.NewString()
	t.Cleanup(func() { _ = st.DeleteSession(ctx, sid) })

	require.NoError(t, st.EnsureSession(ctx, sid))
	before, ok, err := st.GetSession(ctx, sid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, before.Results)

	require.NoError(t, st.UpsertResult(ctx, sid, 5, survey.MarkerPayload{Markers: geo.MarkerSet{{Position: geo.LatLng{Lat: 55.8, Lng: 37.3}, Label: "a"}}}))
	require.NoError(t, st.EnsureSession(ctx, sid))
	after, _, err := st.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
	assert.Len(t, after.Results, 1)
}

func TestGetResultCorruptIsAbsent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	sid := uuid.NewString()
	t.Cleanup(func() { _ = st.DeleteSession(ctx, sid) })

	require.NoError(t, st.EnsureSession(ctx, sid))
	_, err := st.DB().ExecContext(ctx, `UPDATE _survey_sessions SET results=$2::jsonb WHERE id=$1`,
		sid, `[{"taskId":1,"kind":"polygon","polygons":"[[[55.8,"}]`)
	require.NoError(t, err)

	tr, ok, err := st.GetResult(ctx, sid, 1)
	assert.ErrorIs(t, err, geo.ErrMalformedGeometry)
	assert.False(t, ok)
	assert.Nil(t, tr.Payload)
}

func TestDeleteMissingSessionIsNoop(t *testing.T) {
	st := openTestStore(t)
	assert.NoError(t, st.DeleteSession(context.Background(), uuid.NewString()))
}

func TestSubscribeWithoutRedis(t *testing.T) {
	st := AttachDB(nil, tasks.Default())
	_, err := st.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrNotifyDisabled)
}
