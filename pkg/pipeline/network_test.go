package pipeline

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/kguardian-dev/kguardian/pkg/correlator"
	"github.com/kguardian-dev/kguardian/pkg/probe"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

func encodeNetworkEvent(t *testing.T, inum uint64, saddr uint32, sport uint16, daddr uint32, dport uint16, kind uint16) []byte {
	t.Helper()
	raw := make([]byte, 24)
	binary.LittleEndian.PutUint64(raw[0:8], inum)
	binary.BigEndian.PutUint32(raw[8:12], saddr)
	binary.LittleEndian.PutUint16(raw[12:14], sport)
	binary.BigEndian.PutUint32(raw[16:20], daddr)
	binary.LittleEndian.PutUint16(raw[20:22], dport)
	binary.LittleEndian.PutUint16(raw[22:24], kind)
	return raw
}

type fakeTrafficPoster struct {
	mu    sync.Mutex
	calls [][]types.PodTraffic
}

func (f *fakeTrafficPoster) TrafficBatch(_ context.Context, batch []types.PodTraffic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]types.PodTraffic, len(batch))
	copy(cp, batch)
	f.calls = append(f.calls, cp)
	return nil
}

func (f *fakeTrafficPoster) allRecords() []types.PodTraffic {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.PodTraffic
	for _, b := range f.calls {
		out = append(out, b...)
	}
	return out
}

func newTestNetworkPipeline(t *testing.T, corr *correlator.Correlator, broker TrafficPoster) *NetworkFlowPipeline {
	t.Helper()
	p, err := NewNetworkFlowPipeline(corr, broker)
	if err != nil {
		t.Fatalf("NewNetworkFlowPipeline: %v", err)
	}
	return p
}

// S1: an ingress TCP flow from a known pod produces an exact PodTraffic row.
func TestNetworkFlowPipeline_IngressTCP(t *testing.T) {
	corr := correlator.New()
	corr.Set(42, types.PodMetadata{PodName: "web-0", PodNamespace: "default", PodIP: "10.0.0.5"})

	broker := &fakeTrafficPoster{}
	p := newTestNetworkPipeline(t, corr, broker)

	in := make(chan probe.RawEvent, 1)
	in <- probe.RawEvent{Kind: probe.KindNetworkFlow, Data: encodeNetworkEvent(t, 42, 0x0a000005, 8080, 0xc0a80001, 51234, uint16(types.NetworkEventIngressTCP))}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Run(ctx, in)

	records := broker.allRecords()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0]
	if got.PodName != "web-0" || got.PodIP != "10.0.0.5" || got.RemoteIP == got.PodIP {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.TrafficType != types.TrafficIngress.String() {
		t.Errorf("TrafficType = %q, want INGRESS", got.TrafficType)
	}
	if got.Decision != types.DecisionAllow.String() {
		t.Errorf("Decision = %q, want ALLOW", got.Decision)
	}
	if got.IPProtocol != types.ProtocolTCP.String() {
		t.Errorf("IPProtocol = %q, want TCP", got.IPProtocol)
	}
}

// S2: self-traffic (remote == pod IP) must never reach the broker.
func TestNetworkFlowPipeline_SuppressesSelfTraffic(t *testing.T) {
	corr := correlator.New()
	corr.Set(7, types.PodMetadata{PodName: "a", PodNamespace: "ns", PodIP: "10.0.0.9"})

	broker := &fakeTrafficPoster{}
	p := newTestNetworkPipeline(t, corr, broker)

	in := make(chan probe.RawEvent, 1)
	in <- probe.RawEvent{Kind: probe.KindNetworkFlow, Data: encodeNetworkEvent(t, 7, 0x0a000009, 1000, 0x0a000009, 2000, uint16(types.NetworkEventEgressTCP))}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Run(ctx, in)

	if records := broker.allRecords(); len(records) != 0 {
		t.Fatalf("got %d records, want 0 for self-traffic", len(records))
	}
}

// A correlator miss (unknown inode) must not emit a record.
func TestNetworkFlowPipeline_CorrelatorMissDropsEvent(t *testing.T) {
	corr := correlator.New()
	broker := &fakeTrafficPoster{}
	p := newTestNetworkPipeline(t, corr, broker)

	in := make(chan probe.RawEvent, 1)
	in <- probe.RawEvent{Kind: probe.KindNetworkFlow, Data: encodeNetworkEvent(t, 999, 0x0a000001, 1, 0x0a000002, 2, uint16(types.NetworkEventEgressTCP))}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Run(ctx, in)

	if records := broker.allRecords(); len(records) != 0 {
		t.Fatalf("got %d records, want 0 on correlator miss", len(records))
	}
}

// Duplicate flows within the dedup window must collapse to a single row.
func TestNetworkFlowPipeline_DedupesRepeatedFlow(t *testing.T) {
	corr := correlator.New()
	corr.Set(1, types.PodMetadata{PodName: "p", PodNamespace: "ns", PodIP: "10.0.0.1"})

	broker := &fakeTrafficPoster{}
	p := newTestNetworkPipeline(t, corr, broker)

	in := make(chan probe.RawEvent, 2)
	ev := encodeNetworkEvent(t, 1, 0x0a000001, 0, 0xc0a80101, 443, uint16(types.NetworkEventEgressTCP))
	in <- probe.RawEvent{Kind: probe.KindNetworkFlow, Data: ev}
	in <- probe.RawEvent{Kind: probe.KindNetworkFlow, Data: ev}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Run(ctx, in)

	if records := broker.allRecords(); len(records) != 1 {
		t.Fatalf("got %d records, want 1 (deduped)", len(records))
	}
}
