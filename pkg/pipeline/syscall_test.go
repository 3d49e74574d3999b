package pipeline

import (
	"context"
	"encoding/binary"
	goruntime "runtime"
	"sync"
	"testing"
	"time"

	"github.com/kguardian-dev/kguardian/pkg/correlator"
	"github.com/kguardian-dev/kguardian/pkg/probe"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

func encodeSyscallEvent(t *testing.T, inum, syscall uint64) []byte {
	t.Helper()
	raw := make([]byte, 16)
	binary.LittleEndian.PutUint64(raw[0:8], inum)
	binary.LittleEndian.PutUint64(raw[8:16], syscall)
	return raw
}

type fakeSyscallPoster struct {
	mu    sync.Mutex
	calls [][]types.PodInputSyscalls
}

func (f *fakeSyscallPoster) Syscalls(_ context.Context, batch []types.PodInputSyscalls) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]types.PodInputSyscalls, len(batch))
	copy(cp, batch)
	f.calls = append(f.calls, cp)
	return nil
}

func (f *fakeSyscallPoster) allRecords() []types.PodInputSyscalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.PodInputSyscalls
	for _, b := range f.calls {
		out = append(out, b...)
	}
	return out
}

// The per-pod syscall set is monotonic within a flush window: repeated
// numbers collapse, distinct numbers accumulate.
func TestSyscallPipeline_AccumulatesSetAndFlushesOnTimeout(t *testing.T) {
	corr := correlator.New()
	corr.Set(11, types.PodMetadata{PodName: "web-0", PodNamespace: "default"})

	broker := &fakeSyscallPoster{}
	p := NewSyscallPipeline(corr, broker, 20*time.Millisecond)

	in := make(chan probe.RawEvent, 3)
	in <- probe.RawEvent{Kind: probe.KindSyscall, Data: encodeSyscallEvent(t, 11, 0)}
	in <- probe.RawEvent{Kind: probe.KindSyscall, Data: encodeSyscallEvent(t, 11, 1)}
	in <- probe.RawEvent{Kind: probe.KindSyscall, Data: encodeSyscallEvent(t, 11, 0)}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go p.Run(ctx, in)
	time.Sleep(80 * time.Millisecond)
	close(in)
	<-ctx.Done()

	records := broker.allRecords()
	if len(records) == 0 {
		t.Fatalf("expected at least one flushed batch")
	}
	got := records[0]
	if got.PodName != "web-0" || got.PodNamespace != "default" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Arch != goruntime.GOARCH {
		t.Errorf("Arch = %q, want %q", got.Arch, goruntime.GOARCH)
	}
	if len(got.Syscalls) != 2 {
		t.Errorf("Syscalls = %v, want 2 distinct entries", got.Syscalls)
	}
}

func TestSyscallPipeline_CorrelatorMissDropsEvent(t *testing.T) {
	corr := correlator.New()
	broker := &fakeSyscallPoster{}
	p := NewSyscallPipeline(corr, broker, time.Hour)

	in := make(chan probe.RawEvent, 1)
	in <- probe.RawEvent{Kind: probe.KindSyscall, Data: encodeSyscallEvent(t, 99, 0)}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Run(ctx, in)

	if records := broker.allRecords(); len(records) != 0 {
		t.Fatalf("got %d records, want 0 on correlator miss", len(records))
	}
}

func TestSyscallPipeline_NoDataNoFlush(t *testing.T) {
	corr := correlator.New()
	broker := &fakeSyscallPoster{}
	p := NewSyscallPipeline(corr, broker, time.Hour)

	in := make(chan probe.RawEvent)
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Run(ctx, in)

	if records := broker.allRecords(); len(records) != 0 {
		t.Fatalf("got %d records, want 0 for empty run", len(records))
	}
}
