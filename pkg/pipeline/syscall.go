package pipeline

import (
	"context"
	goruntime "runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kguardian-dev/kguardian/pkg/correlator"
	"github.com/kguardian-dev/kguardian/pkg/log"
	"github.com/kguardian-dev/kguardian/pkg/metrics"
	"github.com/kguardian-dev/kguardian/pkg/probe"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

const defaultSyscallFlushInterval = 10 * time.Second

// SyscallPoster is the subset of brokerclient.Client the syscall pipeline
// needs.
type SyscallPoster interface {
	Syscalls(ctx context.Context, batch []types.PodInputSyscalls) error
}

type syscallKey struct {
	podName      string
	podNamespace string
	arch         string
}

// SyscallPipeline implements C6: accumulate the set of syscall numbers
// observed per (pod, namespace, architecture) in memory, and on a
// configurable cadence flush each entry as a PodInputSyscalls batch. The
// set only ever grows between flushes; the broker is responsible for
// merging it into the pod's lifetime set.
type SyscallPipeline struct {
	corr     *correlator.Correlator
	broker   SyscallPoster
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	seen map[syscallKey]map[uint64]struct{}
}

// NewSyscallPipeline creates the syscall pipeline. interval <= 0 uses the
// default 10s flush cadence.
func NewSyscallPipeline(corr *correlator.Correlator, broker SyscallPoster, interval time.Duration) *SyscallPipeline {
	if interval <= 0 {
		interval = defaultSyscallFlushInterval
	}
	return &SyscallPipeline{
		corr:     corr,
		broker:   broker,
		interval: interval,
		logger:   log.WithComponent("pipeline.syscall"),
		seen:     make(map[syscallKey]map[uint64]struct{}),
	}
}

// Run consumes raw syscall events until in is closed or ctx is done,
// flushing the accumulated sets on the configured cadence (C6).
func (p *SyscallPipeline) Run(ctx context.Context, in <-chan probe.RawEvent) {
	ticker := time.NewTicker(p.interval)
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
			p.handle(ev)
		case <-ticker.C:
			p.flush(ctx, "timeout")
		}
	}
}

func (p *SyscallPipeline) handle(ev probe.RawEvent) {
	decoded, err := probe.DecodeSyscallEvent(ev.Data)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to decode syscall event")
		return
	}

	meta, ok := p.corr.Get(decoded.Inum)
	if !ok {
		metrics.CorrelatorMissesTotal.WithLabelValues("syscall").Inc()
		return
	}

	key := syscallKey{
		podName:      meta.PodName,
		podNamespace: meta.PodNamespace,
		arch:         goruntime.GOARCH,
	}

	p.mu.Lock()
	set, ok := p.seen[key]
	if !ok {
		set = make(map[uint64]struct{})
		p.seen[key] = set
	}
	_, already := set[decoded.Syscall]
	set[decoded.Syscall] = struct{}{}
	p.mu.Unlock()

	if !already {
		metrics.PipelineEventsEmittedTotal.WithLabelValues("syscall").Inc()
	}
}

func (p *SyscallPipeline) flush(ctx context.Context, reason string) {
	p.mu.Lock()
	if len(p.seen) == 0 {
		p.mu.Unlock()
		return
	}
	seen := p.seen
	p.seen = make(map[syscallKey]map[uint64]struct{})
	p.mu.Unlock()

	now := time.Now().UTC()
	batch := make([]types.PodInputSyscalls, 0, len(seen))
	for key, set := range seen {
		nums := make([]uint64, 0, len(set))
		for n := range set {
			nums = append(nums, n)
		}
		sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

		syscalls := make([]string, len(nums))
		for i, n := range nums {
			syscalls[i] = strconv.FormatUint(n, 10)
		}

		batch = append(batch, types.PodInputSyscalls{
			PodName:      key.podName,
			PodNamespace: key.podNamespace,
			Arch:         key.arch,
			Syscalls:     syscalls,
			TimeStamp:    now,
		})
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PipelineBatchFlushDuration, "syscall")

	metrics.PipelineBatchFlushesTotal.WithLabelValues("syscall", reason).Inc()

	if err := p.broker.Syscalls(ctx, batch); err != nil {
		p.logger.Error().Err(err).Int("count", len(batch)).Msg("failed to post syscall batch, discarding")
	}
}
