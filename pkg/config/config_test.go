package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAgent_MissingCurrentNode(t *testing.T) {
	t.Setenv(envCurrentNode, "")
	t.Setenv(envAPIEndpoint, "http://broker:8080")

	_, err := LoadAgent()
	require.Error(t, err)
}

func TestLoadAgent_MissingAPIEndpoint(t *testing.T) {
	t.Setenv(envCurrentNode, "node-1")
	t.Setenv(envAPIEndpoint, "")

	_, err := LoadAgent()
	require.Error(t, err)
}

func TestLoadAgent_Defaults(t *testing.T) {
	t.Setenv(envCurrentNode, "node-1")
	t.Setenv(envAPIEndpoint, "http://broker:8080")
	t.Setenv(envExcludedNamespaces, "")
	t.Setenv(envIgnoreDaemonsetTraffic, "")

	cfg, err := LoadAgent()
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.CurrentNode)
	assert.True(t, cfg.IgnoreDaemonsetTraffic)
	assert.True(t, cfg.Excluded("kube-system"))
	assert.True(t, cfg.Excluded("kguardian"))
	assert.False(t, cfg.Excluded("default"))
}

func TestLoadAgent_CustomExcludedNamespaces(t *testing.T) {
	t.Setenv(envCurrentNode, "node-1")
	t.Setenv(envAPIEndpoint, "http://broker:8080")
	t.Setenv(envExcludedNamespaces, "kube-system, monitoring ,kguardian")
	t.Setenv(envIgnoreDaemonsetTraffic, "false")

	cfg, err := LoadAgent()
	require.NoError(t, err)
	assert.False(t, cfg.IgnoreDaemonsetTraffic)
	assert.True(t, cfg.Excluded("monitoring"))
	assert.False(t, cfg.Excluded("default"))
}

func TestLoadAgent_InvalidBoolean(t *testing.T) {
	t.Setenv(envCurrentNode, "node-1")
	t.Setenv(envAPIEndpoint, "http://broker:8080")
	t.Setenv(envIgnoreDaemonsetTraffic, "not-a-bool")

	_, err := LoadAgent()
	require.Error(t, err)
}

func TestLoadBroker_Defaults(t *testing.T) {
	t.Setenv(envBrokerListenAddr, "")
	t.Setenv(envBrokerDBPath, "")

	cfg, err := LoadBroker()
	require.NoError(t, err)
	assert.Equal(t, defaultBrokerListenAddr, cfg.ListenAddr)
	assert.Equal(t, defaultBrokerDBPath, cfg.DBPath)
}
