package opcua

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastiankruger/shopfloor-oee/internal/metrics"
	"github.com/sebastiankruger/shopfloor-oee/internal/monitor"
	"github.com/sebastiankruger/shopfloor-oee/internal/oee"
)

func TestAddDeviceInitialValues(t *testing.T) {
	s := NewServer(Config{Port: 4840})
	s.AddDevice("press-01")
	s.AddDevice("press-01")

	v, ok := s.Value("press-01", NodeOEE)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	v, ok = s.Value("press-01", NodeStopped)
	require.True(t, ok)
	assert.Equal(t, false, v)

	_, ok = s.Value("press-02", NodeOEE)
	assert.False(t, ok)
	_, ok = s.Value("press-01", "Unknown")
	assert.False(t, ok)
}

func TestPublishResult(t *testing.T) {
	s := NewServer(Config{})
	at := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

	s.PublishResult(metrics.Result{
		Device:             "press-01",
		Breakdown:          oee.Breakdown{Availability: 90, Performance: 95, Quality: 99, OEE: 84.645},
		ConstrainingFactor: oee.FactorAvailability,
		CalculatedAt:       at,
	})

	v, _ := s.Value("press-01", NodeOEE)
	assert.Equal(t, 84.645, v)
	v, _ = s.Value("press-01", NodeAvailability)
	assert.Equal(t, 90.0, v)
	v, _ = s.Value("press-01", NodeConstrainingFactor)
	assert.Equal(t, "availability", v)
	v, _ = s.Value("press-01", NodeCalculatedAt)
	assert.Equal(t, at, v)
}

func TestDeviceChecked(t *testing.T) {
	s := NewServer(Config{})
	start := time.Date(2024, 3, 4, 6, 11, 0, 0, time.UTC)

	s.DeviceChecked(monitor.DeviceState{
		Device:        "press-01",
		Stopped:       true,
		StoppageStart: &start,
		WorkOrderID:   "WO-1",
		GoodCount:     2300,
		ScrapCount:    100,
	})

	v, _ := s.Value("press-01", NodeStopped)
	assert.Equal(t, true, v)
	v, _ = s.Value("press-01", NodeStoppageStart)
	assert.Equal(t, start, v)
	v, _ = s.Value("press-01", NodeGoodCount)
	assert.Equal(t, int64(2300), v)
	v, _ = s.Value("press-01", NodeWorkOrder)
	assert.Equal(t, "WO-1", v)

	s.DeviceChecked(monitor.DeviceState{Device: "press-01"})
	v, _ = s.Value("press-01", NodeStopped)
	assert.Equal(t, false, v)
	v, _ = s.Value("press-01", NodeStoppageStart)
	assert.Equal(t, time.Time{}, v)
}

func TestEnsurePKIGeneratesOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pki")

	certPath, keyPath, err := ensurePKI(dir, "OEE Engine")
	require.NoError(t, err)
	assert.FileExists(t, keyPath)

	raw, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "OEE Engine", cert.Subject.CommonName)
	require.Len(t, cert.URIs, 1)
	assert.Equal(t, "urn:"+applicationURN, cert.URIs[0].String())

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, _, err := ensurePKI(dir, "OEE Engine")
	require.NoError(t, err)
	raw2, err := os.ReadFile(again)
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
}
