/*
Package probe loads and drives kguardian's three kernel probes
(network-flow, policy-drop, syscall) and multiplexes their ring buffers
onto one Go channel.

Loading is two-stage: open the compiled BPF object (a path supplied at
startup, built out-of-band from the C sources this package does not
compile), load it into the kernel, then attach each program. Any failure
at either stage is a types.ProbeBringupFailed naming which probe failed.

Once loaded, and before any program is attached, the syscall allowlist is
written into the allowed_syscalls map; a failure here is logged and the probe
continues unfiltered rather than aborting bringup, per the collaborator's
best-effort framing of that map.

Run drives one dedicated, blocking goroutine — not part of the
supervisor's errgroup — that round-robins a bounded read deadline across
the three ring buffers and forwards the raw, still-undecoded records,
each tagged with its Kind, to a single bounded channel. Two control channels (AdmitInode, IgnoreIP) are drained
non-blockingly on each pass and pushed into their respective BPF maps.
*/
package probe
