package runtime

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"

	"github.com/kguardian-dev/kguardian/pkg/types"
)

const (
	// ContainerdNamespace is the namespace kubelet/CRI creates containers
	// in; kguardian only reads from it, it never creates or mutates state.
	ContainerdNamespace = "k8s.io"

	// DefaultSocketPath is the default containerd UNIX socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

var containerIDPattern = regexp.MustCompile(`containerd://(?P<container_id>[0-9a-zA-Z]*)`)

// ParseContainerID extracts the hex container id from a CRI-formatted
// container status id such as "containerd://abcdef0123...". ok is false if
// the id does not match the expected runtime prefix.
func ParseContainerID(criID string) (id string, ok bool) {
	m := containerIDPattern.FindStringSubmatch(criID)
	if m == nil {
		return "", false
	}
	for i, name := range containerIDPattern.SubexpNames() {
		if name == "container_id" && m[i] != "" {
			return m[i], true
		}
	}
	return "", false
}

// Resolver resolves a CRI container id to the netns inode number of its
// task, by way of the containerd UNIX socket and procfs. It is read-only:
// kguardian never creates, starts, or deletes containers.
type Resolver struct {
	client *containerd.Client
}

// NewResolver connects to the containerd socket. Connection failures are a
// Runtime-kind error per the error-handling design.
func NewResolver(socketPath string) (*Resolver, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, types.NewError(types.KindRuntime, "connect to containerd socket "+socketPath, err)
	}

	return &Resolver{client: client}, nil
}

// Close closes the containerd client connection.
func (r *Resolver) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// NetnsInode resolves a CRI container id (e.g. "containerd://abc123") to
// the network-namespace inode number of its running task, via
// Tasks.Get in the k8s.io namespace followed by reading
// /proc/<pid>/ns/net.
func (r *Resolver) NetnsInode(ctx context.Context, criContainerID string) (uint64, error) {
	id, ok := ParseContainerID(criContainerID)
	if !ok {
		return 0, types.NewError(types.KindRuntime, fmt.Sprintf("container id %q does not match containerd:// format", criContainerID), nil)
	}

	ctx = namespaces.WithNamespace(ctx, ContainerdNamespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return 0, types.NewError(types.KindRuntime, "load container "+id, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return 0, types.NewError(types.KindRuntime, "get task for container "+id, err)
	}

	pid := task.Pid()
	if pid == 0 {
		return 0, types.NewError(types.KindRuntime, "container "+id+" task has no pid", nil)
	}

	return netnsInodeForPID(pid)
}

// netnsInodeForPID stats /proc/<pid>/ns/net, following the symlink to the
// namespace file, and returns that file's inode number (the number shown
// in the link target, e.g. "net:[4026532341]").
func netnsInodeForPID(pid uint32) (uint64, error) {
	path := fmt.Sprintf("/proc/%d/ns/net", pid)
	fi, err := os.Stat(path)
	if err != nil {
		return 0, types.NewError(types.KindRuntime, "stat "+path, err)
	}

	inode, ok := inodeFromFileInfo(fi)
	if !ok {
		return 0, types.NewError(types.KindRuntime, "could not determine inode for "+path, nil)
	}

	return inode, nil
}
