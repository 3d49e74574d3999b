//go:build !linux

package runtime

import "os"

// inodeFromFileInfo is unsupported outside Linux; netns resolution is a
// Linux-only concept (containerd and /proc/<pid>/ns/net both are).
func inodeFromFileInfo(fi os.FileInfo) (uint64, bool) {
	return 0, false
}
