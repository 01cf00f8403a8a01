package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gps_streamer/internal/gps"
)

func TestFormatGPSMessage(t *testing.T) {
	line, err := formatGPSMessage(gps.TypePosition, []byte(`{"lat":48.1173,"lon":11.5166667,"alt":545.4}`))
	require.NoError(t, err)
	assert.Equal(t, "[POS ]  lat=48.11730000 lon=11.51666670 alt=  545.4m", line)

	line, err = formatGPSMessage(gps.TypePosition, []byte(`{"lat":1,"lon":2}`))
	require.NoError(t, err)
	assert.Contains(t, line, "alt=    n/a")

	line, err = formatGPSMessage(gps.TypeVelocity, []byte(`{"speed":10,"track":90,"climb":-0.5}`))
	require.NoError(t, err)
	assert.Equal(t, "[VEL ]  speed=10.00m/s (36.0km/h) track=90.0° climb=-0.50m/s", line)

	line, err = formatGPSMessage(gps.TypeQuality, []byte(`{"satellites":9,"satellites_used":7,"hdop":0.9,"pdop":1.6}`))
	require.NoError(t, err)
	assert.Equal(t, "[QUAL]  sats=7/9 hdop=0.90 (Excellent) pdop=1.60", line)
}

func TestFormatGPSMessage_BadPayload(t *testing.T) {
	_, err := formatGPSMessage(gps.TypeQuality, []byte(`{"satellites":"many"}`))
	assert.Error(t, err)

	_, err = formatGPSMessage(gps.ReportType(99), []byte(`{}`))
	assert.Error(t, err)
}
