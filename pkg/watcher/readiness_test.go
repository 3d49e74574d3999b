package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestContainerIDs_SkipsNotReadyPod(t *testing.T) {
	pod := &corev1.Pod{
		Status: corev1.PodStatus{
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionFalse, Message: "containers not ready"},
			},
		},
	}
	_, ok := containerIDs(pod)
	assert.False(t, ok)
}

func TestContainerIDs_SkipsPodWithoutContainerStatuses(t *testing.T) {
	pod := &corev1.Pod{Status: corev1.PodStatus{}}
	_, ok := containerIDs(pod)
	assert.False(t, ok)
}

func TestContainerIDs_ReturnsIDsForReadyPod(t *testing.T) {
	pod := &corev1.Pod{
		Status: corev1.PodStatus{
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
			ContainerStatuses: []corev1.ContainerStatus{
				{ContainerID: "containerd://abc123"},
			},
		},
	}
	ids, ok := containerIDs(pod)
	assert.True(t, ok)
	assert.Equal(t, []string{"containerd://abc123"}, ids)
}

func TestShouldProcessPod_ExcludesConfiguredNamespaces(t *testing.T) {
	excluded := map[string]struct{}{"kube-system": {}, "kguardian": {}}
	assert.False(t, shouldProcessPod("kube-system", excluded))
	assert.True(t, shouldProcessPod("default", excluded))
}

func TestIsBackedByDaemonSet(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			OwnerReferences: []metav1.OwnerReference{{Kind: "DaemonSet", Name: "node-exporter"}},
		},
	}
	assert.True(t, isBackedByDaemonSet(pod))

	pod2 := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			OwnerReferences: []metav1.OwnerReference{{Kind: "ReplicaSet", Name: "api-abc"}},
		},
	}
	assert.False(t, isBackedByDaemonSet(pod2))
}
