/*
Package runtime resolves a CRI container id to the network-namespace
inode of its running task — the one piece of container-runtime state
kguardian needs. It is a narrow, read-only collaborator: it never creates,
starts, stops, or deletes a container, unlike a typical containerd
lifecycle client.

Resolution path:

	"containerd://<hex>" --ParseContainerID--> hex id
	hex id --Tasks (k8s.io namespace)--> task PID
	task PID --/proc/<pid>/ns/net--> netns inode

The netns inode is the key the pod/service watcher (pkg/watcher) uses to
populate the workload correlator (pkg/correlator) and the probe loader's
admit map (pkg/probe).
*/
package runtime
