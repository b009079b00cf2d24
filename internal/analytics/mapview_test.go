package analytics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdash/internal/model"
)

func featuresOfKind(fc FeatureCollection, kind string) []Feature {
	var out []Feature
	for _, f := range fc.Features {
		if f.Properties["kind"] == kind {
			out = append(out, f)
		}
	}
	return out
}

func TestBuildMapOverlayAll(t *testing.T) {
	doc := fixtureDoc()
	doc.RefinedRoutes = append(doc.RefinedRoutes, model.RefinedRoute{
		Sequence: []model.SequenceStop{{Location: loc(1, 1)}, {ID: "Z", Location: loc(2, 2)}},
	})
	ov := BuildMapOverlay(doc, "")

	assert.Equal(t, AllVehicles, ov.Selected)
	assert.Equal(t, []string{"TRK-1", "trk-2"}, ov.Vehicles)
	require.Len(t, ov.Lines, 3)
	assert.Equal(t, RoutePalette[0], ov.Lines[0].Color)
	assert.Equal(t, "Route 3", ov.Lines[2].Vehicle)
	assert.Len(t, ov.Lines[0].Points, 2, "stops without coordinates are skipped")
	assert.Empty(t, ov.Lines[1].Points)

	require.NotNil(t, ov.Bounds)
	assert.Equal(t, Bounds{South: 0, West: 0, North: 2, East: 2}, *ov.Bounds)

	assert.Len(t, featuresOfKind(ov.GeoJSON, "depot"), 1)
	assert.Len(t, featuresOfKind(ov.GeoJSON, "route"), 2)
	assert.Len(t, featuresOfKind(ov.GeoJSON, "petrol"), 2, "duplicate coordinates collapse")
	assert.Len(t, featuresOfKind(ov.GeoJSON, "repair"), 1)

	stops := featuresOfKind(ov.GeoJSON, "stop")
	require.Len(t, stops, 4)
	assert.Equal(t, "Stop 1", stops[2].Properties["label"])
	assert.Equal(t, "Z", stops[3].Properties["label"])

	raw, err := json.Marshal(ov.GeoJSON)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"FeatureCollection"`)
	assert.Contains(t, string(raw), `"coordinates":[[0,0],[0.01,0]]`)
}

func TestBuildMapOverlaySelected(t *testing.T) {
	doc := fixtureDoc()
	ov := BuildMapOverlay(doc, "trk-2")

	assert.False(t, ov.Lines[0].Active)
	assert.True(t, ov.Lines[1].Active)
	// depot only: the selected route has no located stops
	require.NotNil(t, ov.Bounds)
	assert.Equal(t, Bounds{}, *ov.Bounds)
	assert.Empty(t, featuresOfKind(ov.GeoJSON, "route"))
	assert.Empty(t, featuresOfKind(ov.GeoJSON, "petrol"))
}

func TestBuildMapOverlayEmpty(t *testing.T) {
	ov := BuildMapOverlay(model.RouteDocument{}, AllVehicles)
	assert.Nil(t, ov.Bounds)
	assert.Empty(t, ov.Lines)
	assert.Empty(t, ov.GeoJSON.Features)
}
