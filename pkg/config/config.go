/*
Package config reads kguardian's environment-variable configuration
surface. Like the teacher's cmd/warren, which reads all of its
configuration straight from cobra flags with no config library in between,
kguardian reads its primary input source — the process environment —
directly with os.LookupEnv, validates, and fails fast.
*/
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/kguardian-dev/kguardian/pkg/types"
)

const (
	envCurrentNode            = "CURRENT_NODE"
	envExcludedNamespaces     = "EXCLUDED_NAMESPACES"
	envIgnoreDaemonsetTraffic = "IGNORE_DAEMONSET_TRAFFIC"
	envAPIEndpoint            = "API_ENDPOINT"

	defaultExcludedNamespaces = "kube-system,kguardian"
)

// AgentConfig holds the configuration surface for cmd/kguardian-agent.
type AgentConfig struct {
	CurrentNode            string
	ExcludedNamespaces     map[string]struct{}
	IgnoreDaemonsetTraffic bool
	APIEndpoint            string
}

// LoadAgent reads AgentConfig from the environment, per §6's table.
func LoadAgent() (*AgentConfig, error) {
	node, ok := os.LookupEnv(envCurrentNode)
	if !ok || node == "" {
		return nil, types.NewError(types.KindConfig, envCurrentNode+" is required", nil)
	}

	endpoint, ok := os.LookupEnv(envAPIEndpoint)
	if !ok || endpoint == "" {
		return nil, types.NewError(types.KindConfig, envAPIEndpoint+" is required", nil)
	}

	excluded := defaultExcludedNamespaces
	if v, ok := os.LookupEnv(envExcludedNamespaces); ok && v != "" {
		excluded = v
	}

	ignoreDaemonset := true
	if v, ok := os.LookupEnv(envIgnoreDaemonsetTraffic); ok && v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, types.NewError(types.KindConfig, envIgnoreDaemonsetTraffic+" must be a boolean", err)
		}
		ignoreDaemonset = parsed
	}

	return &AgentConfig{
		CurrentNode:            node,
		ExcludedNamespaces:     namespaceSet(excluded),
		IgnoreDaemonsetTraffic: ignoreDaemonset,
		APIEndpoint:            strings.TrimRight(endpoint, "/"),
	}, nil
}

func namespaceSet(csv string) map[string]struct{} {
	parts := strings.Split(csv, ",")
	set := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// Excluded reports whether namespace is in the exclude set.
func (c *AgentConfig) Excluded(namespace string) bool {
	_, excluded := c.ExcludedNamespaces[namespace]
	return excluded
}

const (
	envBrokerListenAddr = "BROKER_LISTEN_ADDR"
	envBrokerDBPath     = "BROKER_DB_PATH"

	defaultBrokerListenAddr = ":8080"
	defaultBrokerDBPath     = "kguardian-broker.db"
)

// BrokerConfig holds the configuration surface for cmd/kguardian-broker.
type BrokerConfig struct {
	ListenAddr string
	DBPath     string
}

// LoadBroker reads BrokerConfig from the environment, falling back to
// sensible local defaults (the broker's listen address and DB path are not
// part of spec.md's env table, so they default rather than require
// explicit configuration).
func LoadBroker() (*BrokerConfig, error) {
	addr := defaultBrokerListenAddr
	if v, ok := os.LookupEnv(envBrokerListenAddr); ok && v != "" {
		addr = v
	}

	dbPath := defaultBrokerDBPath
	if v, ok := os.LookupEnv(envBrokerDBPath); ok && v != "" {
		dbPath = v
	}

	return &BrokerConfig{ListenAddr: addr, DBPath: dbPath}, nil
}
