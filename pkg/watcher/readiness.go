package watcher

import (
	corev1 "k8s.io/api/core/v1"
)

// containerIDs returns the pod's container IDs if it passes the readiness
// gate, or nil if the pod should be skipped this pass.
//
// A pod with a Ready=False condition is skipped outright. A pod with no
// container statuses yet (still being admitted) is also skipped. Anything
// else yields whatever container IDs are present, even an empty list —
// container_statuses being present at all is the signal that the kubelet
// has started reporting on this pod.
func containerIDs(pod *corev1.Pod) ([]string, bool) {
	status := pod.Status
	for _, cond := range status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionFalse {
			return nil, false
		}
	}

	if status.ContainerStatuses == nil {
		return nil, false
	}

	ids := make([]string, 0, len(status.ContainerStatuses))
	for _, cs := range status.ContainerStatuses {
		if cs.ContainerID != "" {
			ids = append(ids, cs.ContainerID)
		}
	}
	return ids, true
}

// shouldProcessPod reports whether a pod's namespace is not in the
// excluded set.
func shouldProcessPod(namespace string, excluded map[string]struct{}) bool {
	_, ok := excluded[namespace]
	return !ok
}
