package syncgate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/sovereign/internal/store"
)

// fakeBoundaries is an in-memory Boundaries implementation.
type fakeBoundaries struct {
	allowed map[store.Layer]bool
	err     error
}

func (f *fakeBoundaries) GetSyncBoundary(_ context.Context, layer store.Layer) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[layer], nil
}

func (f *fakeBoundaries) SetSyncBoundary(_ context.Context, layer store.Layer, allowed bool) error {
	if f.err != nil {
		return f.err
	}
	if f.allowed == nil {
		f.allowed = make(map[store.Layer]bool)
	}
	f.allowed[layer] = allowed
	return nil
}

func (f *fakeBoundaries) GetAllSyncBoundaries(_ context.Context) ([]store.SyncBoundary, error) {
	var out []store.SyncBoundary
	for _, layer := range store.Layers() {
		out = append(out, store.SyncBoundary{Layer: layer, Allowed: f.allowed[layer]})
	}
	return out, nil
}

// fakeTransport collects everything a conforming transport would send.
type fakeTransport struct {
	sent []store.Reflection
}

func (ft *fakeTransport) Send(ctx context.Context, gate *Controller, records []store.Reflection) {
	allowed, _ := gate.FilterOutbound(ctx, records)
	ft.sent = append(ft.sent, allowed...)
}

func reflections(layers ...store.Layer) []store.Reflection {
	out := make([]store.Reflection, len(layers))
	for i, l := range layers {
		out[i] = store.Reflection{ID: string(rune('a' + i)), Content: "x", Layer: l, Modality: "text"}
	}
	return out
}

func TestDefaultsClosed(t *testing.T) {
	gate := NewController(&fakeBoundaries{}, nil)
	ctx := context.Background()
	for _, layer := range store.Layers() {
		assert.False(t, gate.IsSyncAllowed(ctx, layer))
	}
	assert.False(t, gate.IsSyncAllowed(ctx, "ether"))
}

func TestSetBoundaryTakesEffect(t *testing.T) {
	gate := NewController(&fakeBoundaries{}, nil)
	ctx := context.Background()

	require.NoError(t, gate.SetBoundary(ctx, store.LayerCommons, true))
	assert.True(t, gate.IsSyncAllowed(ctx, store.LayerCommons))
	assert.False(t, gate.IsSyncAllowed(ctx, store.LayerSovereign))

	require.NoError(t, gate.SetBoundary(ctx, store.LayerCommons, false))
	assert.False(t, gate.IsSyncAllowed(ctx, store.LayerCommons))
}

func TestFailClosedOnStorageError(t *testing.T) {
	gate := NewController(&fakeBoundaries{
		allowed: map[store.Layer]bool{store.LayerCommons: true},
		err:     errors.New("disk gone"),
	}, nil)
	assert.False(t, gate.IsSyncAllowed(context.Background(), store.LayerCommons))
}

func TestClosedLayerNeverLeavesDevice(t *testing.T) {
	ctx := context.Background()
	gate := NewController(&fakeBoundaries{}, nil)
	require.NoError(t, gate.SetBoundary(ctx, store.LayerCommons, true))
	require.NoError(t, gate.SetBoundary(ctx, store.LayerBuilder, true))

	transport := &fakeTransport{}
	transport.Send(ctx, gate, reflections(
		store.LayerSovereign, store.LayerCommons, store.LayerSovereign, store.LayerBuilder,
	))

	require.Len(t, transport.sent, 2)
	for _, r := range transport.sent {
		assert.NotEqual(t, store.LayerSovereign, r.Layer,
			"sovereign records must never appear in an outbound batch")
	}
}

func TestFilterOutboundReportsHeld(t *testing.T) {
	ctx := context.Background()
	gate := NewController(&fakeBoundaries{}, nil)
	require.NoError(t, gate.SetBoundary(ctx, store.LayerBuilder, true))

	allowed, held := gate.FilterOutbound(ctx, reflections(store.LayerBuilder, store.LayerSovereign))
	require.Len(t, allowed, 1)
	assert.Equal(t, store.LayerBuilder, allowed[0].Layer)
	require.Len(t, held, 1)
	assert.Equal(t, store.LayerSovereign, held[0].Layer)
}
