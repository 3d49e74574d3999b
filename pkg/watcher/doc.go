/*
Package watcher implements kguardian's pod and service discovery (C3):
informer-based watchers over this node's pods and the cluster's services,
workload-identity resolution by label priority and owner-reference
tracing, netns-inode resolution via the container runtime, and
publication of admitted inodes into the probe's kernel-side allowlist.

PodWatcher is scoped to one node via a spec.nodeName field selector, the
same restriction the kernel probes only ever see traffic for. Per-pod
processing failures are logged and retried through the workqueue's rate
limiter rather than blocking the informer; a pod that keeps failing never
stalls the ones behind it.

ServiceWatcher has no such scoping: services are cluster-level objects,
and every node's agent needs the same view of them to label outbound
traffic against.
*/
package watcher
