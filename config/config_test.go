package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault_Baseline(t *testing.T) {
	t.Setenv(QueueTimeoutEnvVar, "")

	cfg := Default()
	require.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultLookAhead, cfg.LookAhead)
	require.Equal(t, DefaultQueueTimeout, cfg.QueueTimeout)
	require.NotNil(t, cfg.Extras)
}

func TestDefault_QueueTimeoutFromEnv(t *testing.T) {
	t.Setenv(QueueTimeoutEnvVar, "2.5")
	cfg := Default()
	require.Equal(t, 2500*time.Millisecond, cfg.QueueTimeout)
}

func TestDefault_QueueTimeoutInvalidFallsBack(t *testing.T) {
	t.Setenv(QueueTimeoutEnvVar, "not-a-number")
	cfg := Default()
	require.Equal(t, DefaultQueueTimeout, cfg.QueueTimeout)
}
