package probe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNetworkEvent_RoundTrips(t *testing.T) {
	raw := make([]byte, networkEventWireSize)
	binary.LittleEndian.PutUint64(raw[0:8], 12345)
	binary.BigEndian.PutUint32(raw[8:12], 0x7f000001) // 127.0.0.1, network order
	binary.LittleEndian.PutUint16(raw[12:14], 443)
	binary.BigEndian.PutUint32(raw[16:20], 0x7f000002) // 127.0.0.2, network order
	binary.LittleEndian.PutUint16(raw[20:22], 8080)
	binary.LittleEndian.PutUint16(raw[22:24], 1)

	ev, err := DecodeNetworkEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), ev.Inum)
	assert.Equal(t, uint32(0x7f000001), ev.Saddr)
	assert.Equal(t, uint16(443), ev.Sport)
	assert.Equal(t, uint32(0x7f000002), ev.Daddr)
	assert.Equal(t, uint16(8080), ev.Dport)
	assert.Equal(t, uint16(1), ev.Kind)
}

func TestDecodeNetworkEvent_TooShort(t *testing.T) {
	_, err := DecodeNetworkEvent(make([]byte, 4))
	require.Error(t, err)
}

func TestDecodePolicyDropEvent_RoundTrips(t *testing.T) {
	raw := make([]byte, policyDropEventWireSize)
	binary.LittleEndian.PutUint64(raw[0:8], 999)
	binary.LittleEndian.PutUint64(raw[8:16], 42)
	binary.BigEndian.PutUint32(raw[16:20], 0x0a000001) // 10.0.0.1, network order
	binary.BigEndian.PutUint32(raw[20:24], 0x0a000002) // 10.0.0.2, network order
	raw[28] = 6 // TCP
	binary.LittleEndian.PutUint32(raw[32:36], 3)

	ev, err := DecodePolicyDropEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(999), ev.Timestamp)
	assert.Equal(t, uint64(42), ev.Inum)
	assert.Equal(t, uint32(0x0a000001), ev.Saddr)
	assert.Equal(t, uint32(0x0a000002), ev.Daddr)
	assert.Equal(t, uint8(6), ev.Protocol)
	assert.Equal(t, uint32(3), ev.SynRetries)
}

func TestDecodeSyscallEvent_RoundTrips(t *testing.T) {
	raw := make([]byte, syscallEventWireSize)
	binary.LittleEndian.PutUint64(raw[0:8], 7)
	binary.LittleEndian.PutUint64(raw[8:16], 59)

	ev, err := DecodeSyscallEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ev.Inum)
	assert.Equal(t, uint64(59), ev.Syscall)
}

func TestDefaultSyscallAllowlist_NoDuplicates(t *testing.T) {
	seen := make(map[uint64]bool, len(DefaultSyscallAllowlist))
	for _, nr := range DefaultSyscallAllowlist {
		require.False(t, seen[nr], "duplicate syscall number %d", nr)
		seen[nr] = true
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "network-flow", KindNetworkFlow.String())
	assert.Equal(t, "policy-drop", KindPolicyDrop.String())
	assert.Equal(t, "syscall", KindSyscall.String())
}
