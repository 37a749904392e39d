package util

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFileName(t *testing.T) {
	at := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "battlewire_2026-03-09.log", LogFileName("", at))
	assert.Equal(t, "battlewire_server_2026-03-09.log", LogFileName("server", at))
}

func TestPruneLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"battlewire_client_2026-03-01.log",
		"battlewire_server_2026-03-02.log",
		"battlewire_2026-03-03.log",
		"battlewire_server_2026-03-04.log",
		"unrelated.log",
	}
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	removed := PruneLogs(dir, 2)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "battlewire_client_2026-03-01.log"),
		filepath.Join(dir, "battlewire_server_2026-03-02.log"),
	}, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"battlewire_2026-03-03.log",
		"battlewire_server_2026-03-04.log",
		"unrelated.log",
	}, left)
}

func TestPruneLogsUnderLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "battlewire_2026-03-03.log"), nil, 0644))
	assert.Empty(t, PruneLogs(dir, 5))
	assert.Empty(t, PruneLogs(filepath.Join(dir, "missing"), 1))
}

func TestInitLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Directory: dir, MaxBackups: 3, Role: "server"}))
	t.Cleanup(func() { _ = InitLogger(LogConfig{Level: "info"}) })

	_, err := os.Stat(filepath.Join(dir, LogFileName("server", time.Now())))
	require.NoError(t, err)
}

func TestSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.NotEmpty(t, info.Architecture)
	assert.Positive(t, info.CPUCores)

	stats := GetProcessStats(time.Now().Add(-time.Minute))
	assert.Equal(t, int32(os.Getpid()), stats.PID)
	assert.Positive(t, stats.Goroutines)
}

func TestEnsureCertificate(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "tls", "cert.pem")
	key := filepath.Join(dir, "tls", "key.pem")

	generated, err := EnsureCertificate(cert, key, "localhost", "127.0.0.1")
	require.NoError(t, err)
	assert.True(t, generated)

	pair, err := tls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	info, err := os.Stat(key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	generated, err = EnsureCertificate(cert, key)
	require.NoError(t, err)
	assert.False(t, generated, "existing pair is kept")

	require.NoError(t, os.Remove(key))
	_, err = EnsureCertificate(cert, key)
	require.Error(t, err, "half a pair")
}
