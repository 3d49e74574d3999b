package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/kguardian-dev/kguardian/pkg/correlator"
	"github.com/kguardian-dev/kguardian/pkg/log"
	"github.com/kguardian-dev/kguardian/pkg/metrics"
	"github.com/kguardian-dev/kguardian/pkg/probe"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

const (
	policyDropBatchSize    = 100
	policyDropBatchTimeout = 2 * time.Second
)

// PacketDropPoster is the subset of brokerclient.Client the policy-drop
// pipeline needs.
type PacketDropPoster interface {
	PacketDropBatch(ctx context.Context, batch []types.PodPacketDrop) error
}

type packetDropDedupKey struct {
	podName    string
	podIP      string
	podPort    string
	remoteIP   string
	remotePort string
	protocol   string
}

// PolicyDropPipeline implements C5: consume decoded policy-drop events,
// enrich from the correlator, derive a human-readable drop reason, and
// emit in batches. Direction is always EGRESS — these are outbound
// connections the kernel's network policy refused. Identical pipeline
// shape to C4: self-traffic is suppressed and repeated drops within the
// dedup cache's window are collapsed to one record.
type PolicyDropPipeline struct {
	corr   *correlator.Correlator
	broker PacketDropPoster
	dedup  *lru.Cache[packetDropDedupKey, struct{}]
	logger zerolog.Logger

	mu    sync.Mutex
	batch []types.PodPacketDrop
}

// NewPolicyDropPipeline creates the policy-drop pipeline.
func NewPolicyDropPipeline(corr *correlator.Correlator, broker PacketDropPoster) (*PolicyDropPipeline, error) {
	cache, err := lru.New[packetDropDedupKey, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &PolicyDropPipeline{
		corr:   corr,
		broker: broker,
		dedup:  cache,
		logger: log.WithComponent("pipeline.policy-drop"),
		batch:  make([]types.PodPacketDrop, 0, policyDropBatchSize),
	}, nil
}

// Run consumes raw policy-drop events until in is closed or ctx is done.
func (p *PolicyDropPipeline) Run(ctx context.Context, in <-chan probe.RawEvent) {
	ticker := time.NewTicker(policyDropBatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(context.Background(), "shutdown")
			return
		case ev, ok := <-in:
			if !ok {
				p.flush(context.Background(), "shutdown")
				return
			}
			p.handle(ctx, ev)
		case <-ticker.C:
			p.flush(ctx, "timeout")
		}
	}
}

func (p *PolicyDropPipeline) handle(ctx context.Context, ev probe.RawEvent) {
	decoded, err := probe.DecodePolicyDropEvent(ev.Data)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to decode policy drop event")
		return
	}

	meta, ok := p.corr.Get(decoded.Inum)
	if !ok {
		metrics.CorrelatorMissesTotal.WithLabelValues("policy-drop").Inc()
		return
	}

	remoteIP := ipv4ToString(decoded.Daddr)
	if remoteIP == meta.PodIP {
		return
	}

	protocol := protocolFromNumber(decoded.Protocol)
	podPort := strconv.Itoa(int(decoded.Sport))
	remotePort := strconv.Itoa(int(decoded.Dport))

	key := packetDropDedupKey{
		podName:    meta.PodName,
		podIP:      meta.PodIP,
		podPort:    podPort,
		remoteIP:   remoteIP,
		remotePort: remotePort,
		protocol:   protocol.String(),
	}
	if _, seen := p.dedup.Get(key); seen {
		metrics.PipelineEventsDedupedTotal.WithLabelValues("policy-drop").Inc()
		return
	}
	p.dedup.Add(key, struct{}{})

	record := types.PodPacketDrop{
		UUID:         uuid.NewString(),
		PodName:      meta.PodName,
		PodNamespace: meta.PodNamespace,
		PodIP:        meta.PodIP,
		PodPort:      podPort,
		TrafficType:  types.TrafficEgress.String(),
		RemoteIP:     remoteIP,
		RemotePort:   remotePort,
		DropReason:   dropReason(protocol, decoded.SynRetries),
		IPProtocol:   protocol.String(),
		TimeStamp:    time.Now().UTC(),
	}

	p.mu.Lock()
	p.batch = append(p.batch, record)
	full := len(p.batch) >= policyDropBatchSize
	p.mu.Unlock()

	metrics.PipelineEventsEmittedTotal.WithLabelValues("policy-drop").Inc()

	if full {
		p.flush(ctx, "size")
	}
}

// protocolFromNumber maps an IP protocol number to its Protocol value,
// matching the kernel's proto_to_string: 6 TCP, 17 UDP, 1 ICMP, 58
// ICMPv6, anything else an unknown protocol carrying its own number.
func protocolFromNumber(n uint8) types.Protocol {
	return types.ProtocolFromNumber(n)
}

// dropReason mirrors get_drop_reason: a SYN-retry count above zero means
// the connection timed out waiting on a policy-dropped handshake;
// otherwise the reason names the protocol that was dropped outright.
func dropReason(protocol types.Protocol, synRetries uint32) string {
	if synRetries > 0 {
		return fmt.Sprintf("Network Policy (Connection Timeout - %d SYN retries)", synRetries)
	}
	switch protocol {
	case types.ProtocolTCP, types.ProtocolUDP, types.ProtocolICMP, types.ProtocolICMPv6:
		return fmt.Sprintf("Network Policy (%s Drop)", protocol.String())
	default:
		return "Network Policy"
	}
}

func (p *PolicyDropPipeline) flush(ctx context.Context, reason string) {
	p.mu.Lock()
	if len(p.batch) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.batch
	p.batch = make([]types.PodPacketDrop, 0, policyDropBatchSize)
	p.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PipelineBatchFlushDuration, "policy-drop")

	metrics.PipelineBatchFlushesTotal.WithLabelValues("policy-drop", reason).Inc()

	if err := p.broker.PacketDropBatch(ctx, batch); err != nil {
		p.logger.Error().Err(err).Int("count", len(batch)).Msg("failed to post packet drop batch, discarding")
	}
}
