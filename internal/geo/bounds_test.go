package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundsOf(t *testing.T) {
	_, ok := BoundsOf(nil)
	assert.False(t, ok)

	b, ok := BoundsOf([]LatLng{{55.8, 37.3}, {55.9, 37.2}, {55.7, 37.5}})
	require.True(t, ok)
	assert.Equal(t, Bounds{South: 55.7, West: 37.2, North: 55.9, East: 37.5}, b)
	assert.InDelta(t, 55.8, b.Center().Lat, 1e-9)
	assert.InDelta(t, 37.35, b.Center().Lng, 1e-9)
}

func TestFitViewportFallback(t *testing.T) {
	v := FitViewport(nil, DefaultViewport())
	assert.Equal(t, DefaultViewport(), v)
	assert.Nil(t, v.Bounds)
}

func TestFitViewportZoom(t *testing.T) {
	v := FitViewport([]LatLng{{55.8, 37.3}, {55.9, 37.4}}, DefaultViewport())
	require.NotNil(t, v.Bounds)
	// 跨度 0.1° → log2(3600) ≈ 11.8
	assert.Equal(t, 11, v.Zoom)

	single := FitViewport([]LatLng{{55.8, 37.3}}, DefaultViewport())
	assert.Equal(t, maxZoom, single.Zoom)
	assert.Equal(t, LatLng{55.8, 37.3}, single.Center)

	world := FitViewport([]LatLng{{-80, -179}, {80, 179}}, DefaultViewport())
	assert.Equal(t, minZoom, world.Zoom)
}
