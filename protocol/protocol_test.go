package protocol

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/asset"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatus_JSON(t *testing.T) {
	for _, s := range []Status{StatusDisconnected, StatusConnecting, StatusConnected, StatusError} {
		b, err := json.Marshal(s)
		require.NoError(t, err)

		var back Status
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, s, back)
	}

	var s Status
	assert.Error(t, json.Unmarshal([]byte(`"lost"`), &s))
	assert.Equal(t, "status(9)", Status(9).String())
}

func TestStatusHolder_NotifiesOnChangeOnly(t *testing.T) {
	h := NewStatusHolder()
	assert.Equal(t, StatusDisconnected, h.Get())

	type transition struct{ from, to Status }
	var seen []transition
	h.OnChange(func(from, to Status, _ string) { seen = append(seen, transition{from, to}) })

	assert.True(t, h.Set(StatusConnecting, "start"))
	assert.True(t, h.Set(StatusConnected, "health check passed"))
	assert.False(t, h.Set(StatusConnected, "again"))
	assert.Equal(t, "health check passed", h.Reason())

	assert.False(t, h.CompareAndSet(StatusError, StatusConnected, "recovered"))
	assert.True(t, h.Set(StatusError, "group failed"))
	assert.True(t, h.CompareAndSet(StatusError, StatusConnected, "recovered"))

	assert.Equal(t, []transition{
		{StatusDisconnected, StatusConnecting},
		{StatusConnecting, StatusConnected},
		{StatusConnected, StatusError},
		{StatusError, StatusConnected},
	}, seen)
}

type lookupMap map[string]*asset.Asset

func (m lookupMap) FindAssetByID(_ context.Context, id string) (*asset.Asset, bool) {
	a, ok := m[id]
	return a, ok
}

func TestGroup_ByLocation(t *testing.T) {
	london := &asset.GeoPoint{Lat: 51.5, Lon: -0.12}
	lookup := lookupMap{
		"a": {ID: "a", Location: london},
		"b": {ID: "b", Location: &asset.GeoPoint{Lat: 51.5, Lon: -0.12}},
		"c": {ID: "c", Location: &asset.GeoPoint{Lat: 48.85, Lon: 2.35}},
		"d": {ID: "d"},
	}
	attrs := map[asset.AttributeRef]asset.Attribute{
		{AssetID: "b", Name: "temperature"}: {},
		{AssetID: "a", Name: "temperature"}: {},
		{AssetID: "c", Name: "humidity"}:    {},
		{AssetID: "d", Name: "humidity"}:    {},
		{AssetID: "x", Name: "humidity"}:    {},
	}

	groups := Group(context.Background(), attrs, ByLocation(lookup), discardLogger())

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"48.85,2.35", "51.5,-0.12"}, groups.Keys())
	assert.Equal(t, 3, groups.Refs())

	ldn := groups["51.5,-0.12"]
	assert.Equal(t, *london, ldn.Determinant)
	assert.Equal(t, []asset.AttributeRef{
		{AssetID: "a", Name: "temperature"},
		{AssetID: "b", Name: "temperature"},
	}, ldn.Refs)
}

func TestGroup_Empty(t *testing.T) {
	groups := Group(context.Background(), nil, ByLocation(lookupMap{}), nil)
	assert.Empty(t, groups)
	assert.Empty(t, groups.Keys())
}
