package sim

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/vialflow/internal/station"
)

func connected(t *testing.T, s Settings) *Driver {
	t.Helper()
	d := New(s)
	require.NoError(t, d.Connect(context.Background()))
	return d
}

func TestTemperatureRampsTowardSetpointWhileRegulating(t *testing.T) {
	ctx := context.Background()
	d := connected(t, Settings{AmbientC: 20, RampPerRead: 25})
	require.NoError(t, d.SetTemperature(ctx, 80))

	reading, err := d.Temperature(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 20.0, reading, "plate stays at ambient until regulation starts")

	require.NoError(t, d.StartRegulation(ctx))
	var readings []float64
	for i := 0; i < 4; i++ {
		r, err := d.Temperature(ctx, 0)
		require.NoError(t, err)
		readings = append(readings, r)
	}
	assert.Equal(t, []float64{45, 70, 80, 80}, readings)

	require.NoError(t, d.StopRegulation(ctx))
	r, err := d.Temperature(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 55.0, r)
}

func TestDoseAppliesYield(t *testing.T) {
	d := connected(t, Settings{DoseYield: 0.98})
	actual, err := d.Dose(context.Background(), "CC3", 50)
	require.NoError(t, err)
	assert.InDelta(t, 49.0, actual, 1e-9)
}

func TestDispenseRequiresPrimedPump(t *testing.T) {
	ctx := context.Background()
	d := connected(t, Settings{})
	require.NoError(t, d.PositionForInfuse(ctx))
	require.Error(t, d.Dispense(ctx, "water", 1000))

	require.NoError(t, d.Prime(ctx, "water"))
	require.NoError(t, d.Dispense(ctx, "water", 1000))
	require.NoError(t, d.ReturnToHold(ctx))
	require.Error(t, d.Dispense(ctx, "water", 1000))
}

func TestCaptureNeedsClosedLitLightbox(t *testing.T) {
	ctx := context.Background()
	d := connected(t, Settings{})
	require.NoError(t, d.OpenLightbox(ctx))
	require.NoError(t, d.LightOn(ctx))
	_, err := d.Capture(ctx)
	require.Error(t, err)

	require.NoError(t, d.CloseLightbox(ctx))
	frame, err := d.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, "png", frame.Format)
	img, err := png.Decode(bytes.NewReader(frame.Data))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestOfflineRigRefusesCommands(t *testing.T) {
	d := New(Settings{})
	err := d.Move(context.Background(), 1, station.LocationRack, station.LocationPump)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
}
