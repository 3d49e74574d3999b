package pipeline

import "github.com/kguardian-dev/kguardian/pkg/probe"

const dispatchChannelCap = 1000

// Dispatch demultiplexes the probe's single event channel into one channel
// per Kind, so each pipeline can run its own batching loop independently.
// The three returned channels are closed once in is closed.
// Sends are blocking and come from one goroutine: when a pipeline falls
// behind and its channel fills, the dispatcher waits on it and stops
// forwarding to the other two channels as well until space frees.
func Dispatch(in <-chan probe.RawEvent) (network, policyDrop, syscall chan probe.RawEvent) {
	network = make(chan probe.RawEvent, dispatchChannelCap)
	policyDrop = make(chan probe.RawEvent, dispatchChannelCap)
	syscall = make(chan probe.RawEvent, dispatchChannelCap)

	go func() {
		defer close(network)
		defer close(policyDrop)
		defer close(syscall)

		for ev := range in {
			switch ev.Kind {
			case probe.KindNetworkFlow:
				network <- ev
			case probe.KindPolicyDrop:
				policyDrop <- ev
			case probe.KindSyscall:
				syscall <- ev
			}
		}
	}()

	return network, policyDrop, syscall
}
