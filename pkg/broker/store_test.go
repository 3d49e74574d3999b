package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kguardian-dev/kguardian/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertPodDetail_ReplacesOnSecondUpsert(t *testing.T) {
	store := newTestStore(t)

	pod := types.PodDetail{PodName: "web-0", PodNamespace: "default", PodIP: "10.0.0.5", NodeName: "node-1", PodObj: "{}", TimeStamp: time.Now().UTC()}
	_, err := store.UpsertPodDetail(pod)
	require.NoError(t, err)

	pod.PodIP = "10.0.0.6"
	_, err = store.UpsertPodDetail(pod)
	require.NoError(t, err)

	got, err := store.PodDetailByName("web-0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.6", got.PodIP)
}

func TestMarkPodDead_ExcludesFromAliveList(t *testing.T) {
	store := newTestStore(t)

	pod := types.PodDetail{PodName: "web-0", PodNamespace: "default", PodIP: "10.0.0.5", NodeName: "node-1", PodObj: "{}", TimeStamp: time.Now().UTC()}
	_, err := store.UpsertPodDetail(pod)
	require.NoError(t, err)

	alive, err := store.AlivePodsOnNode("node-1")
	require.NoError(t, err)
	assert.Len(t, alive, 1)

	rows, err := store.MarkPodDead("web-0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	alive, err = store.AlivePodsOnNode("node-1")
	require.NoError(t, err)
	assert.Len(t, alive, 0)
}

func TestInsertTraffic_ExactDuplicateSuppressed(t *testing.T) {
	store := newTestStore(t)

	traffic := types.PodTraffic{
		UUID: "u1", PodName: "web-0", PodNamespace: "default", PodIP: "10.0.0.5",
		PodPort: "8080", TrafficType: types.TrafficIngress.String(), RemoteIP: "10.0.0.9",
		RemotePort: "0", Decision: types.DecisionAllow.String(), IPProtocol: types.ProtocolTCP.String(),
		TimeStamp: time.Now().UTC(),
	}
	inserted, err := store.InsertTraffic(traffic)
	require.NoError(t, err)
	assert.True(t, inserted)

	traffic.UUID = "u2"
	inserted, err = store.InsertTraffic(traffic)
	require.NoError(t, err)
	assert.False(t, inserted, "exact duplicate tuple must be suppressed")

	rows, err := store.TrafficByPodName("web-0")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestInsertTraffic_UDPFallsBackOnPortMismatch(t *testing.T) {
	store := newTestStore(t)

	first := types.PodTraffic{
		UUID: "u1", PodName: "web-0", PodNamespace: "default", PodIP: "10.0.0.5",
		PodPort: "53000", TrafficType: types.TrafficEgress.String(), RemoteIP: "10.0.0.9",
		RemotePort: "53", Decision: types.DecisionAllow.String(), IPProtocol: types.ProtocolUDP.String(),
		TimeStamp: time.Now().UTC(),
	}
	inserted, err := store.InsertTraffic(first)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same flow, different ephemeral pod_port: must still match via the
	// pod_port-dropped predicate and be treated as a duplicate.
	second := first
	second.UUID = "u2"
	second.PodPort = "53999"
	inserted, err = store.InsertTraffic(second)
	require.NoError(t, err)
	assert.False(t, inserted, "UDP duplicate with a different ephemeral pod_port must still collapse")
}

func TestInsertPacketDropBatch_CountsOnlyNewRows(t *testing.T) {
	store := newTestStore(t)

	drop := types.PodPacketDrop{
		UUID: "d1", PodName: "web-0", PodNamespace: "default", PodIP: "10.0.0.5",
		PodPort: "0", TrafficType: types.TrafficEgress.String(), RemoteIP: "10.0.0.9",
		RemotePort: "443", DropReason: "Network Policy (TCP Drop)", IPProtocol: types.ProtocolTCP.String(),
		TimeStamp: time.Now().UTC(),
	}
	other := drop
	other.UUID = "d2"
	other.RemoteIP = "10.0.0.10"

	inserted, err := store.InsertPacketDropBatch([]types.PodPacketDrop{drop, drop, other})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}

func TestUpsertSyscalls_UnionsAcrossFlushes(t *testing.T) {
	store := newTestStore(t)

	first := types.PodInputSyscalls{PodName: "web-0", PodNamespace: "default", Arch: "amd64", Syscalls: []string{"0", "1"}, TimeStamp: time.Now().UTC()}
	require.NoError(t, store.UpsertSyscalls([]types.PodInputSyscalls{first}))

	second := types.PodInputSyscalls{PodName: "web-0", PodNamespace: "default", Arch: "amd64", Syscalls: []string{"1", "2"}, TimeStamp: time.Now().UTC()}
	require.NoError(t, store.UpsertSyscalls([]types.PodInputSyscalls{second}))

	rows, err := store.SyscallsByPodName("web-0")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	seen := make(map[string]bool)
	for _, n := range splitCSV(rows[0].Syscalls) {
		seen[n] = true
	}
	assert.True(t, seen["0"] && seen["1"] && seen["2"], "syscalls = %q, want union of both flushes", rows[0].Syscalls)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func TestPodDetailByName_NotFoundReturnsError(t *testing.T) {
	store := newTestStore(t)
	_, err := store.PodDetailByName("missing")
	require.Error(t, err)
}
