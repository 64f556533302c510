package annotate

import (
	"context"
	"errors"
	"testing"

	"geo-survey/internal/geo"
	"geo-survey/internal/survey"
	"geo-survey/internal/tasks"
	"geo-survey/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	polygonTask = 1
	markerTask  = 5
)

func triangle() geo.Ring {
	return geo.Ring{{Lat: 55.80, Lng: 37.30}, {Lat: 55.85, Lng: 37.30}, {Lat: 55.85, Lng: 37.40}}
}

func newController(t *testing.T, fs *testutil.FakeStore, taskID int, prior survey.Payload) *Controller {
	t.Helper()
	c, err := New("sid", tasks.Default(), taskID, fs, prior, geo.DefaultViewport())
	require.NoError(t, err)
	return c
}

func TestNewEntersModeByKind(t *testing.T) {
	fs := testutil.NewFakeStore(tasks.Default())
	assert.Equal(t, Drawing, newController(t, fs, polygonTask, nil).State())
	assert.Equal(t, Idle, newController(t, fs, markerTask, nil).State())

	_, err := New("sid", tasks.Default(), 99, fs, nil, geo.DefaultViewport())
	assert.ErrorIs(t, err, tasks.ErrUnknownTask)
}

func TestPolygonSubmitPersistsAndNavigates(t *testing.T) {
	cat := tasks.Default()
	fs := testutil.NewFakeStore(cat)
	c := newController(t, fs, polygonTask, nil)

	require.NoError(t, c.AddRing(triangle()))
	assert.Equal(t, 0, fs.Calls, "rings are saved only at submission")

	out, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Outcome{Next: 2}, out)
	assert.Equal(t, Submitted, c.State())

	got, ok, err := fs.GetResult(context.Background(), "sid", polygonTask)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, survey.PolygonPayload{Rings: geo.PolygonSet{triangle()}}, got.Payload)

	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitted)
}

func TestSubmitEmptyDoesNotTouchStore(t *testing.T) {
	fs := testutil.NewFakeStore(tasks.Default())
	c := newController(t, fs, polygonTask, nil)

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrEmptyAnnotation)
	assert.Equal(t, 0, fs.Calls)
	assert.Equal(t, Drawing, c.State())
}

func TestSubmitStoreFailureKeepsState(t *testing.T) {
	boom := errors.New("db down")
	fs := testutil.NewFakeStore(tasks.Default())
	c := newController(t, fs, polygonTask, nil)
	require.NoError(t, c.AddRing(triangle()))

	fs.UpsertErr = boom
	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Drawing, c.State())
	assert.Len(t, c.WorkingSet().(survey.PolygonPayload).Rings, 1)

	fs.UpsertErr = nil
	_, err = c.Submit(context.Background())
	require.NoError(t, err)
}

func TestAddRingValidation(t *testing.T) {
	fs := testutil.NewFakeStore(tasks.Default())
	c := newController(t, fs, polygonTask, nil)

	assert.ErrorIs(t, c.AddRing(triangle()[:2]), geo.ErrDegenerateRing)
	bad := triangle()
	bad[1].Lat = 123
	assert.ErrorIs(t, c.AddRing(bad), geo.ErrInvalidCoordinate)
	assert.True(t, c.WorkingSet().Empty())

	m := newController(t, fs, markerTask, nil)
	assert.ErrorIs(t, m.AddRing(triangle()), ErrWrongMode)
}

func TestMarkerPlacementSavesImmediately(t *testing.T) {
	cat := tasks.Default()
	fs := testutil.NewFakeStore(cat)
	c := newController(t, fs, markerTask, nil)

	_, err := c.PlaceMarker(context.Background(), geo.LatLng{Lat: 55.82, Lng: 37.33}, "park")
	assert.ErrorIs(t, err, ErrWrongMode, "placing must be toggled on first")

	on, err := c.TogglePlacing()
	require.NoError(t, err)
	require.True(t, on)

	placed, err := c.PlaceMarker(context.Background(), geo.LatLng{Lat: 55.82, Lng: 37.33}, "park")
	require.NoError(t, err)
	assert.True(t, placed)
	assert.Equal(t, 1, fs.Calls)
	assert.Equal(t, PlacingMarker, c.State())

	placed, err = c.PlaceMarker(context.Background(), geo.LatLng{Lat: 55.83, Lng: 37.34}, "cafe")
	require.NoError(t, err)
	assert.True(t, placed)

	got, ok, err := fs.GetResult(context.Background(), "sid", markerTask)
	require.NoError(t, err)
	require.True(t, ok)
	mp := got.Payload.(survey.MarkerPayload)
	require.Len(t, mp.Markers, 2)
	assert.Equal(t, "cafe", mp.Markers[1].Label)
}

func TestMarkerEmptyLabelIsNoop(t *testing.T) {
	fs := testutil.NewFakeStore(tasks.Default())
	c := newController(t, fs, markerTask, nil)
	_, err := c.TogglePlacing()
	require.NoError(t, err)

	placed, err := c.PlaceMarker(context.Background(), geo.LatLng{Lat: 55.82, Lng: 37.33}, "")
	require.NoError(t, err)
	assert.False(t, placed)
	assert.Equal(t, 0, fs.Calls)
	assert.True(t, c.WorkingSet().Empty())
}

func TestMarkerSaveFailureRollsBack(t *testing.T) {
	boom := errors.New("db down")
	fs := testutil.NewFakeStore(tasks.Default())
	c := newController(t, fs, markerTask, nil)
	_, err := c.TogglePlacing()
	require.NoError(t, err)

	fs.UpsertErr = boom
	placed, err := c.PlaceMarker(context.Background(), geo.LatLng{Lat: 55.82, Lng: 37.33}, "park")
	assert.ErrorIs(t, err, boom)
	assert.False(t, placed)
	assert.True(t, c.WorkingSet().Empty())
	assert.Equal(t, PlacingMarker, c.State())
}

func TestMarkerSeededFromPrior(t *testing.T) {
	fs := testutil.NewFakeStore(tasks.Default())
	prior := survey.MarkerPayload{Markers: geo.MarkerSet{{Position: geo.LatLng{Lat: 55.8, Lng: 37.3}, Label: "old"}}}
	c := newController(t, fs, markerTask, prior)

	_, err := c.TogglePlacing()
	require.NoError(t, err)
	_, err = c.PlaceMarker(context.Background(), geo.LatLng{Lat: 55.81, Lng: 37.31}, "new")
	require.NoError(t, err)

	mp := c.WorkingSet().(survey.MarkerPayload)
	require.Len(t, mp.Markers, 2)
	assert.Equal(t, "old", mp.Markers[0].Label)
}

func TestToggleOffKeepsMarkersAndSubmitFinishes(t *testing.T) {
	fs := testutil.NewFakeStore(tasks.Default())
	c := newController(t, fs, markerTask, nil)

	_, err := c.TogglePlacing()
	require.NoError(t, err)
	_, err = c.PlaceMarker(context.Background(), geo.LatLng{Lat: 55.82, Lng: 37.33}, "park")
	require.NoError(t, err)

	on, err := c.TogglePlacing()
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, Idle, c.State())
	assert.False(t, c.WorkingSet().Empty())

	out, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Outcome{Done: true}, out)
}

func TestToggleOnPolygonTaskRejected(t *testing.T) {
	fs := testutil.NewFakeStore(tasks.Default())
	c := newController(t, fs, polygonTask, nil)
	_, err := c.TogglePlacing()
	assert.ErrorIs(t, err, ErrWrongMode)
	assert.Equal(t, Drawing, c.State())
}

func TestReadOnlyRejectsInput(t *testing.T) {
	cat := tasks.Default()
	def, err := cat.Get(polygonTask)
	require.NoError(t, err)
	c := NewReadOnly(def, survey.PolygonPayload{Rings: geo.PolygonSet{triangle()}}, geo.DefaultViewport())

	assert.Equal(t, ReadOnly, c.State())
	assert.ErrorIs(t, c.AddRing(triangle()), ErrReadOnly)
	_, err = c.TogglePlacing()
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = c.PlaceMarker(context.Background(), geo.LatLng{}, "x")
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrReadOnly)

	vp := c.Viewport()
	require.NotNil(t, vp.Bounds)
	assert.InDelta(t, 55.825, vp.Center.Lat, 1e-9)
	assert.InDelta(t, 37.35, vp.Center.Lng, 1e-9)
}

func TestReadOnlyWithoutGeometryUsesFallback(t *testing.T) {
	def, err := tasks.Default().Get(markerTask)
	require.NoError(t, err)
	c := NewReadOnly(def, survey.MarkerPayload{}, geo.DefaultViewport())
	assert.Equal(t, geo.DefaultViewport(), c.Viewport())
}

func TestStateText(t *testing.T) {
	b, err := PlacingMarker.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "placing_marker", string(b))
	assert.Equal(t, "state(42)", State(42).String())
}
