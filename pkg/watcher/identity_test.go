package watcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestResolveWorkloadIdentity_LabelPriority(t *testing.T) {
	clientset := fake.NewSimpleClientset()

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Labels: map[string]string{
				"app.kubernetes.io/name":      "api",
				"app.kubernetes.io/component": "backend",
				"k8s-app":                     "ignored",
				"app":                         "also-ignored",
			},
		},
	}

	identity, _ := resolveWorkloadIdentity(context.Background(), clientset, pod)
	assert.Equal(t, "api", identity)
}

func TestResolveWorkloadIdentity_FallsBackToComponent(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Labels: map[string]string{"app.kubernetes.io/component": "backend", "app": "ignored"},
		},
	}
	identity, _ := resolveWorkloadIdentity(context.Background(), clientset, pod)
	assert.Equal(t, "backend", identity)
}

func TestResolveWorkloadIdentity_TracesReplicaSetToDeploymentSelector(t *testing.T) {
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "api-deploy", Namespace: "default"},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "api"}},
		},
	}
	replicaSet := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:            "api-deploy-abc123",
			Namespace:       "default",
			OwnerReferences: []metav1.OwnerReference{{Kind: "Deployment", Name: "api-deploy"}},
		},
	}
	clientset := fake.NewSimpleClientset(deployment, replicaSet)

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "default",
			Labels:    map[string]string{"app.kubernetes.io/name": "api"},
			OwnerReferences: []metav1.OwnerReference{
				{Kind: "ReplicaSet", Name: "api-deploy-abc123"},
			},
		},
	}

	identity, selectors := resolveWorkloadIdentity(context.Background(), clientset, pod)
	assert.Equal(t, "api", identity)
	assert.Equal(t, map[string]string{"app": "api"}, selectors)
}

func TestResolveWorkloadIdentity_NoLabelsFallsBackToOwnerNameAndSelector(t *testing.T) {
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "worker", Namespace: "default"},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "worker"}},
		},
	}
	clientset := fake.NewSimpleClientset(deployment)

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       "default",
			OwnerReferences: []metav1.OwnerReference{{Kind: "Deployment", Name: "worker"}},
		},
	}

	identity, selectors := resolveWorkloadIdentity(context.Background(), clientset, pod)
	assert.Equal(t, "worker", identity)
	assert.Equal(t, map[string]string{"app": "worker"}, selectors)
}
