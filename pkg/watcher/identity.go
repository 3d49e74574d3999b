package watcher

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

func metaGetOptions() metav1.GetOptions {
	return metav1.GetOptions{}
}

// identityLabelPriority is checked in order; the first label present on
// the pod wins as its workload identity.
var identityLabelPriority = []string{
	"app.kubernetes.io/name",
	"app.kubernetes.io/component",
	"k8s-app",
	"app",
}

// resolveWorkloadIdentity returns the pod's workload identity and the
// matchLabels selector of the workload that owns it. It first checks the
// pod's own labels in priority order; if none match, it falls back to
// walking the pod's owner references for both the name and the selector.
func resolveWorkloadIdentity(ctx context.Context, clientset kubernetes.Interface, pod *corev1.Pod) (identity string, selectors map[string]string) {
	for _, key := range identityLabelPriority {
		if value, ok := pod.Labels[key]; ok && value != "" {
			return value, traceOwnerSelectors(ctx, clientset, pod)
		}
	}

	return traceOwnerIdentityAndSelectors(ctx, clientset, pod)
}

// traceOwnerSelectors walks the pod's owner references to find the
// selector labels of the workload that owns it, without overriding the
// identity already derived from the pod's own labels.
func traceOwnerSelectors(ctx context.Context, clientset kubernetes.Interface, pod *corev1.Pod) map[string]string {
	namespace := pod.Namespace
	for _, owner := range pod.OwnerReferences {
		switch owner.Kind {
		case "ReplicaSet":
			if selectors := deploymentSelectorFromReplicaSet(ctx, clientset, owner.Name, namespace); selectors != nil {
				return selectors
			}
		case "Deployment":
			if selectors := deploymentSelector(ctx, clientset, owner.Name, namespace); selectors != nil {
				return selectors
			}
		case "StatefulSet":
			if selectors := statefulSetSelector(ctx, clientset, owner.Name, namespace); selectors != nil {
				return selectors
			}
		case "DaemonSet":
			if selectors := daemonSetSelector(ctx, clientset, owner.Name, namespace); selectors != nil {
				return selectors
			}
		}
	}
	return nil
}

// traceOwnerIdentityAndSelectors walks owner references for both the
// workload name (used as identity) and its selector labels, used when the
// pod carries none of the priority identity labels.
func traceOwnerIdentityAndSelectors(ctx context.Context, clientset kubernetes.Interface, pod *corev1.Pod) (string, map[string]string) {
	namespace := pod.Namespace
	for _, owner := range pod.OwnerReferences {
		switch owner.Kind {
		case "ReplicaSet":
			if name, selectors := deploymentNameAndSelectorFromReplicaSet(ctx, clientset, owner.Name, namespace); name != "" {
				return name, selectors
			}
		case "Deployment":
			return owner.Name, deploymentSelector(ctx, clientset, owner.Name, namespace)
		case "StatefulSet":
			return owner.Name, statefulSetSelector(ctx, clientset, owner.Name, namespace)
		case "DaemonSet":
			return owner.Name, daemonSetSelector(ctx, clientset, owner.Name, namespace)
		}
	}
	return "", nil
}

func deploymentSelector(ctx context.Context, clientset kubernetes.Interface, name, namespace string) map[string]string {
	dep, err := clientset.AppsV1().Deployments(namespace).Get(ctx, name, metaGetOptions())
	if err != nil || dep.Spec.Selector == nil {
		return nil
	}
	return dep.Spec.Selector.MatchLabels
}

func statefulSetSelector(ctx context.Context, clientset kubernetes.Interface, name, namespace string) map[string]string {
	sts, err := clientset.AppsV1().StatefulSets(namespace).Get(ctx, name, metaGetOptions())
	if err != nil || sts.Spec.Selector == nil {
		return nil
	}
	return sts.Spec.Selector.MatchLabels
}

func daemonSetSelector(ctx context.Context, clientset kubernetes.Interface, name, namespace string) map[string]string {
	ds, err := clientset.AppsV1().DaemonSets(namespace).Get(ctx, name, metaGetOptions())
	if err != nil || ds.Spec.Selector == nil {
		return nil
	}
	return ds.Spec.Selector.MatchLabels
}

func deploymentSelectorFromReplicaSet(ctx context.Context, clientset kubernetes.Interface, name, namespace string) map[string]string {
	rs, err := clientset.AppsV1().ReplicaSets(namespace).Get(ctx, name, metaGetOptions())
	if err != nil {
		return nil
	}
	for _, owner := range rs.OwnerReferences {
		if owner.Kind == "Deployment" {
			return deploymentSelector(ctx, clientset, owner.Name, namespace)
		}
	}
	return nil
}

func deploymentNameAndSelectorFromReplicaSet(ctx context.Context, clientset kubernetes.Interface, name, namespace string) (string, map[string]string) {
	rs, err := clientset.AppsV1().ReplicaSets(namespace).Get(ctx, name, metaGetOptions())
	if err != nil {
		return "", nil
	}
	for _, owner := range rs.OwnerReferences {
		if owner.Kind == "Deployment" {
			if selectors := deploymentSelector(ctx, clientset, owner.Name, namespace); selectors != nil {
				return owner.Name, selectors
			}
		}
	}
	return "", nil
}

// isBackedByDaemonSet reports whether a pod is owned by a DaemonSet.
func isBackedByDaemonSet(pod *corev1.Pod) bool {
	for _, owner := range pod.OwnerReferences {
		if owner.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}
