package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/rs/zerolog"

	"github.com/kguardian-dev/kguardian/pkg/log"
	"github.com/kguardian-dev/kguardian/pkg/metrics"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

const (
	mapInodeNum       = "inode_num"
	mapIgnoreIPs      = "ignore_ips"
	mapAllowedSyscall = "allowed_syscalls"
	mapNetworkEvents  = "network_events"
	mapSyscallEvents  = "syscall_events"
	mapPolicyDrop     = "policy_drop_events"

	progNetworkFlow = "handle_network_flow"
	progPolicyDrop  = "handle_netpolicy_drop"
	progSyscall     = "handle_syscall_enter"

	ringReadDeadline = 100 * time.Millisecond
	eventChannelCap  = 1000
)

// Loader opens and attaches kguardian's three kernel probes from a single
// compiled BPF object file.
type Loader struct {
	ObjectPath string
}

// ringReader pairs a ring-buffer reader with the event Kind it feeds, so
// Run can tag decoded records by the reader they actually came from
// instead of inferring it from position in a slice built off map iteration
// (map iteration order is randomized; positional inference is not safe).
type ringReader struct {
	reader *ringbuf.Reader
	kind   Kind
}

// ProbeSet is a live, attached set of probes plus the ring-buffer readers
// and control maps needed to drive them.
type ProbeSet struct {
	collection *ebpf.Collection
	links      []link.Link
	readers    []ringReader

	inodeMap  *ebpf.Map
	ignoreMap *ebpf.Map

	admitCh  chan uint64
	ignoreCh chan uint32

	Events chan RawEvent

	logger zerolog.Logger
}

// Load opens the BPF object, loads its programs/maps, seeds the syscall
// allowlist, and attaches the three probes. Any bringup failure is returned
// as a types.ProbeBringupFailed naming the probe that failed.
func (l *Loader) Load() (*ProbeSet, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, &types.ProbeBringupFailed{Which: "memlock", Cause: err}
	}

	spec, err := ebpf.LoadCollectionSpec(l.ObjectPath)
	if err != nil {
		return nil, &types.ProbeBringupFailed{Which: "load-spec", Cause: err}
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, &types.ProbeBringupFailed{Which: "new-collection", Cause: err}
	}

	ps := &ProbeSet{
		collection: coll,
		admitCh:    make(chan uint64, eventChannelCap),
		ignoreCh:   make(chan uint32, eventChannelCap),
		Events:     make(chan RawEvent, eventChannelCap),
		logger:     log.WithComponent("probe"),
	}

	if err := ps.seedAllowlist(); err != nil {
		ps.logger.Error().Err(err).Msg("failed to seed syscall allowlist, continuing unfiltered")
	}

	if err := ps.attach(); err != nil {
		ps.Close()
		return nil, err
	}

	return ps, nil
}

func (ps *ProbeSet) attach() error {
	netProg, ok := ps.collection.Programs[progNetworkFlow]
	if !ok {
		return &types.ProbeBringupFailed{Which: "network-flow", Cause: fmt.Errorf("program %q not found", progNetworkFlow)}
	}
	netLink, err := link.Kprobe("tcp_connect", netProg, nil)
	if err != nil {
		return &types.ProbeBringupFailed{Which: "network-flow", Cause: err}
	}
	ps.links = append(ps.links, netLink)

	dropProg, ok := ps.collection.Programs[progPolicyDrop]
	if !ok {
		return &types.ProbeBringupFailed{Which: "policy-drop", Cause: fmt.Errorf("program %q not found", progPolicyDrop)}
	}
	dropLink, err := link.Kprobe("nf_hook_slow", dropProg, nil)
	if err != nil {
		return &types.ProbeBringupFailed{Which: "policy-drop", Cause: err}
	}
	ps.links = append(ps.links, dropLink)

	syscallProg, ok := ps.collection.Programs[progSyscall]
	if !ok {
		return &types.ProbeBringupFailed{Which: "syscall", Cause: fmt.Errorf("program %q not found", progSyscall)}
	}
	syscallLink, err := link.Tracepoint("raw_syscalls", "sys_enter", syscallProg, nil)
	if err != nil {
		return &types.ProbeBringupFailed{Which: "syscall", Cause: err}
	}
	ps.links = append(ps.links, syscallLink)

	ringMaps := []struct {
		name string
		kind Kind
	}{
		{mapNetworkEvents, KindNetworkFlow},
		{mapPolicyDrop, KindPolicyDrop},
		{mapSyscallEvents, KindSyscall},
	}
	for _, rm := range ringMaps {
		m, ok := ps.collection.Maps[rm.name]
		if !ok {
			return &types.ProbeBringupFailed{Which: rm.kind.String(), Cause: fmt.Errorf("ring buffer map %q not found", rm.name)}
		}
		rd, err := ringbuf.NewReader(m)
		if err != nil {
			return &types.ProbeBringupFailed{Which: rm.kind.String(), Cause: err}
		}
		ps.readers = append(ps.readers, ringReader{reader: rd, kind: rm.kind})
	}

	ps.inodeMap = ps.collection.Maps[mapInodeNum]
	ps.ignoreMap = ps.collection.Maps[mapIgnoreIPs]

	return nil
}

func (ps *ProbeSet) seedAllowlist() error {
	m, ok := ps.collection.Maps[mapAllowedSyscall]
	if !ok {
		return fmt.Errorf("allowed_syscalls map not found")
	}
	for _, nr := range DefaultSyscallAllowlist {
		if err := m.Update(&nr, new(uint8), ebpf.UpdateAny); err != nil {
			return fmt.Errorf("write syscall %d to allowlist: %w", nr, err)
		}
	}
	return nil
}

// AdmitInode enqueues a netns inode for admission into the kernel-side
// allowlist. Non-blocking: a full queue drops the request and logs.
func (ps *ProbeSet) AdmitInode(inode uint64) {
	select {
	case ps.admitCh <- inode:
	default:
		ps.logger.Warn().Uint64("inode", inode).Msg("admit channel full, dropping inode admission")
	}
}

// IgnoreIP enqueues a daemonset pod IP (as a big-endian uint32) to be
// written into the kernel-side ignore_ips map. Non-blocking.
func (ps *ProbeSet) IgnoreIP(ip uint32) {
	select {
	case ps.ignoreCh <- ip:
	default:
		ps.logger.Warn().Uint32("ip", ip).Msg("ignore channel full, dropping ignore-ip request")
	}
}

// Run drives the unified poll loop until ctx is canceled. It is meant to
// run on its own dedicated goroutine, outside any errgroup, because each
// ring-buffer read blocks up to ringReadDeadline.
func (ps *ProbeSet) Run(ctx context.Context) {
	for _, rr := range ps.readers {
		_ = rr.reader.SetDeadline(time.Time{})
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ps.drainControlChannels()

		for _, rr := range ps.readers {
			kind := rr.kind
			if err := rr.reader.SetDeadline(time.Now().Add(ringReadDeadline)); err != nil {
				ps.logger.Error().Err(err).Str("ring", kind.String()).Msg("failed to set ring buffer deadline")
				continue
			}

			record, err := rr.reader.Read()
			if err != nil {
				if errors.Is(err, ringbuf.ErrClosed) {
					return
				}
				// Deadline exceeded just means nothing arrived this pass.
				continue
			}

			metrics.ProbeEventsReceivedTotal.WithLabelValues(kind.String()).Inc()

			select {
			case ps.Events <- RawEvent{Kind: kind, Data: record.RawSample}:
			default:
				metrics.ProbeEventsDroppedTotal.WithLabelValues(kind.String()).Inc()
				ps.logger.Warn().Str("ring", kind.String()).Msg("event channel full, dropping event")
			}
		}
	}
}

func (ps *ProbeSet) drainControlChannels() {
	for drained := false; !drained; {
		select {
		case inode := <-ps.admitCh:
			if ps.inodeMap == nil {
				continue
			}
			admitted := uint8(1)
			if err := ps.inodeMap.Update(&inode, &admitted, ebpf.UpdateAny); err != nil {
				ps.logger.Error().Err(err).Uint64("inode", inode).Msg("failed to admit inode")
			}
		default:
			drained = true
		}
	}

	for drained := false; !drained; {
		select {
		case ip := <-ps.ignoreCh:
			if ps.ignoreMap == nil {
				continue
			}
			ignored := uint8(1)
			if err := ps.ignoreMap.Update(&ip, &ignored, ebpf.UpdateAny); err != nil {
				ps.logger.Error().Err(err).Uint32("ip", ip).Msg("failed to add ignore ip")
			}
		default:
			drained = true
		}
	}
}

// Close detaches all probes and releases ring-buffer readers and the
// underlying collection.
func (ps *ProbeSet) Close() error {
	for _, rr := range ps.readers {
		_ = rr.reader.Close()
	}
	for _, l := range ps.links {
		_ = l.Close()
	}
	if ps.collection != nil {
		ps.collection.Close()
	}
	return nil
}
