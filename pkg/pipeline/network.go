package pipeline

import (
	"context"
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
	networkBatchSize    = 100
	networkBatchTimeout = 1 * time.Second
	dedupCacheSize      = 10000
)

// TrafficPoster is the subset of brokerclient.Client the network-flow
// pipeline needs.
type TrafficPoster interface {
	TrafficBatch(ctx context.Context, batch []types.PodTraffic) error
}

type trafficDedupKey struct {
	podName     string
	podIP       string
	podPort     string
	remoteIP    string
	remotePort  string
	trafficType string
	protocol    string
}

// NetworkFlowPipeline implements C4: consume decoded network-flow events,
// enrich from the correlator, drop self-traffic and within-window
// duplicates, and emit allow-decision PodTraffic records in batches.
type NetworkFlowPipeline struct {
	corr   *correlator.Correlator
	broker TrafficPoster
	dedup  *lru.Cache[trafficDedupKey, struct{}]
	logger zerolog.Logger

	mu    sync.Mutex
	batch []types.PodTraffic
}

// NewNetworkFlowPipeline creates the network-flow pipeline.
func NewNetworkFlowPipeline(corr *correlator.Correlator, broker TrafficPoster) (*NetworkFlowPipeline, error) {
	cache, err := lru.New[trafficDedupKey, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &NetworkFlowPipeline{
		corr:   corr,
		broker: broker,
		dedup:  cache,
		logger: log.WithComponent("pipeline.network-flow"),
		batch:  make([]types.PodTraffic, 0, networkBatchSize),
	}, nil
}

// Run consumes raw network-flow events until in is closed or ctx is done,
// batching and flushing emitted records (C4).
func (p *NetworkFlowPipeline) Run(ctx context.Context, in <-chan probe.RawEvent) {
	ticker := time.NewTicker(networkBatchTimeout)
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

func (p *NetworkFlowPipeline) handle(ctx context.Context, ev probe.RawEvent) {
	decoded, err := probe.DecodeNetworkEvent(ev.Data)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to decode network event")
		return
	}

	meta, ok := p.corr.Get(decoded.Inum)
	if !ok {
		metrics.CorrelatorMissesTotal.WithLabelValues("network-flow").Inc()
		return
	}

	record, key, ok := buildTraffic(decoded, meta)
	if !ok {
		return
	}

	if _, seen := p.dedup.Get(key); seen {
		metrics.PipelineEventsDedupedTotal.WithLabelValues("network-flow").Inc()
		return
	}
	p.dedup.Add(key, struct{}{})

	p.mu.Lock()
	p.batch = append(p.batch, record)
	full := len(p.batch) >= networkBatchSize
	p.mu.Unlock()

	metrics.PipelineEventsEmittedTotal.WithLabelValues("network-flow").Inc()

	if full {
		p.flush(ctx, "size")
	}
}

func buildTraffic(ev probe.NetworkEvent, meta types.PodMetadata) (types.PodTraffic, trafficDedupKey, bool) {
	var trafficType types.TrafficDirection
	var protocol types.Protocol
	podPort := ev.Sport
	remotePort := ev.Dport

	switch ev.Kind {
	case uint16(types.NetworkEventIngressTCP):
		trafficType = types.TrafficIngress
		protocol = types.ProtocolTCP
		remotePort = 0
	case uint16(types.NetworkEventEgressTCP):
		trafficType = types.TrafficEgress
		protocol = types.ProtocolTCP
		podPort = 0
	case uint16(types.NetworkEventEgressUDP):
		trafficType = types.TrafficEgress
		protocol = types.ProtocolUDP
		podPort = 0
	default:
		return types.PodTraffic{}, trafficDedupKey{}, false
	}

	remoteIP := ipv4ToString(ev.Daddr)
	if remoteIP == meta.PodIP {
		return types.PodTraffic{}, trafficDedupKey{}, false
	}

	podPortStr := strconv.Itoa(int(podPort))
	remotePortStr := strconv.Itoa(int(remotePort))

	key := trafficDedupKey{
		podName:     meta.PodName,
		podIP:       meta.PodIP,
		podPort:     podPortStr,
		remoteIP:    remoteIP,
		remotePort:  remotePortStr,
		trafficType: trafficType.String(),
		protocol:    protocol.String(),
	}

	record := types.PodTraffic{
		UUID:         uuid.NewString(),
		PodName:      meta.PodName,
		PodNamespace: meta.PodNamespace,
		PodIP:        meta.PodIP,
		PodPort:      podPortStr,
		TrafficType:  trafficType.String(),
		RemoteIP:     remoteIP,
		RemotePort:   remotePortStr,
		Decision:     types.DecisionAllow.String(),
		IPProtocol:   protocol.String(),
		TimeStamp:    time.Now().UTC(),
	}

	return record, key, true
}

func (p *NetworkFlowPipeline) flush(ctx context.Context, reason string) {
	p.mu.Lock()
	if len(p.batch) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.batch
	p.batch = make([]types.PodTraffic, 0, networkBatchSize)
	p.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PipelineBatchFlushDuration, "network-flow")

	metrics.PipelineBatchFlushesTotal.WithLabelValues("network-flow", reason).Inc()

	if err := p.broker.TrafficBatch(ctx, batch); err != nil {
		p.logger.Error().Err(err).Int("count", len(batch)).Msg("failed to post traffic batch, discarding")
	}
}
