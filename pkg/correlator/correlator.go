/*
Package correlator holds the concurrent netns-inode -> pod metadata map
that ties kernel-probe events back to the owning workload. It is written
by pkg/watcher and read by pkg/pipeline; per the teacher's own
lock-free-read primitive of choice for concurrent structures, it is a thin
wrapper over sync.Map rather than a mutex-guarded plain map.
*/
package correlator

import (
	"maps"
	"sync"

	"github.com/kguardian-dev/kguardian/pkg/types"
)

// Correlator is a concurrent map from netns inode to pod metadata. It
// never evicts entries: its size is bounded by the number of concurrent
// pods on the node. Get returns a value-copy so callers never hold a
// reference into correlator-owned state across a channel receive.
type Correlator struct {
	m sync.Map // uint64 -> types.PodMetadata
}

// New creates an empty Correlator.
func New() *Correlator {
	return &Correlator{}
}

// Set replaces the metadata for inode. A fresh record always replaces any
// prior one for the same inode; entries are never mutated in place.
func (c *Correlator) Set(inode uint64, meta types.PodMetadata) {
	c.m.Store(inode, meta)
}

// Get returns a value-copy of the pod metadata for inode, or ok=false if
// the inode has not been (or is no longer) admitted.
func (c *Correlator) Get(inode uint64) (types.PodMetadata, bool) {
	v, ok := c.m.Load(inode)
	if !ok {
		return types.PodMetadata{}, false
	}
	meta := v.(types.PodMetadata)
	meta.WorkloadSelectors = maps.Clone(meta.WorkloadSelectors)
	return meta, true
}

// Delete removes the metadata for inode, if present. Used only at agent
// restart bookkeeping; the steady-state data path never evicts.
func (c *Correlator) Delete(inode uint64) {
	c.m.Delete(inode)
}

// Len reports the number of entries currently tracked. Intended for
// metrics, not for iteration-based logic.
func (c *Correlator) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
