package watcher

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/workqueue"

	"github.com/kguardian-dev/kguardian/pkg/correlator"
	"github.com/kguardian-dev/kguardian/pkg/log"
	"github.com/kguardian-dev/kguardian/pkg/metrics"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

const workerCount = 2

// NetnsResolver resolves a CRI container ID to its network-namespace inode.
type NetnsResolver interface {
	NetnsInode(ctx context.Context, criContainerID string) (uint64, error)
}

// InodeAdmitter admits a resolved netns inode into the kernel-side allowlist.
type InodeAdmitter interface {
	AdmitInode(inode uint64)
}

// IPIgnorer pushes a daemonset pod IP into the kernel-side ignore set.
type IPIgnorer interface {
	IgnoreIP(ip uint32)
}

// PodUpserter is the subset of brokerclient.Client the pod watcher needs.
type PodUpserter interface {
	UpsertPod(ctx context.Context, pod types.PodDetail) error
}

// PodWatcherConfig configures a PodWatcher.
type PodWatcherConfig struct {
	Node                   string
	ExcludedNamespaces     map[string]struct{}
	IgnoreDaemonsetTraffic bool
}

// PodWatcher subscribes to this node's pods, resolves each ready pod's
// netns inode via the container runtime, publishes it to the correlator
// and the probe's admission allowlist, and upserts pod detail to the
// broker (C3).
type PodWatcher struct {
	cfg       PodWatcherConfig
	clientset kubernetes.Interface
	resolver  NetnsResolver
	admitter  InodeAdmitter
	ignorer   IPIgnorer
	broker    PodUpserter
	corr      *correlator.Correlator

	informer cache.SharedIndexInformer
	queue    workqueue.RateLimitingInterface
}

// NewPodWatcher creates a pod watcher. Call Run to start it.
func NewPodWatcher(
	cfg PodWatcherConfig,
	clientset kubernetes.Interface,
	resolver NetnsResolver,
	admitter InodeAdmitter,
	ignorer IPIgnorer,
	broker PodUpserter,
	corr *correlator.Correlator,
) *PodWatcher {
	w := &PodWatcher{
		cfg:       cfg,
		clientset: clientset,
		resolver:  resolver,
		admitter:  admitter,
		ignorer:   ignorer,
		broker:    broker,
		corr:      corr,
		queue:     workqueue.NewNamedRateLimitingQueue(workqueue.DefaultControllerRateLimiter(), "pod-watcher"),
	}

	listWatch := &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			options.FieldSelector = fields.OneTermEqualSelector("spec.nodeName", cfg.Node).String()
			return clientset.CoreV1().Pods(metav1.NamespaceAll).List(context.Background(), options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			options.FieldSelector = fields.OneTermEqualSelector("spec.nodeName", cfg.Node).String()
			return clientset.CoreV1().Pods(metav1.NamespaceAll).Watch(context.Background(), options)
		},
	}

	w.informer = cache.NewSharedIndexInformer(listWatch, &corev1.Pod{}, 0, cache.Indexers{
		cache.NamespaceIndex: cache.MetaNamespaceIndexFunc,
	})

	w.informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj interface{}) { w.enqueue(obj) },
		UpdateFunc: func(_, obj interface{}) { w.enqueue(obj) },
		DeleteFunc: func(obj interface{}) { w.enqueue(obj) },
	})

	return w
}

func (w *PodWatcher) enqueue(obj interface{}) {
	key, err := cache.MetaNamespaceKeyFunc(obj)
	if err != nil {
		return
	}
	w.queue.Add(key)
}

// Run starts the informer and worker pool, blocking until ctx is canceled.
func (w *PodWatcher) Run(ctx context.Context) error {
	defer w.queue.ShutDown()

	go w.informer.Run(ctx.Done())

	if !cache.WaitForCacheSync(ctx.Done(), w.informer.HasSynced) {
		return fmt.Errorf("pod watcher: cache never synced")
	}

	for i := 0; i < workerCount; i++ {
		go w.runWorker(ctx)
	}

	<-ctx.Done()
	return nil
}

func (w *PodWatcher) runWorker(ctx context.Context) {
	for w.processNextItem(ctx) {
	}
}

func (w *PodWatcher) processNextItem(ctx context.Context) bool {
	key, shutdown := w.queue.Get()
	if shutdown {
		return false
	}
	defer w.queue.Done(key)

	if err := w.process(ctx, key.(string)); err != nil {
		log.WithComponent("watcher").Error().Err(err).Str("key", key.(string)).Msg("failed to process pod, retrying with backoff")
		w.queue.AddRateLimited(key)
		return true
	}

	w.queue.Forget(key)
	return true
}

func (w *PodWatcher) process(ctx context.Context, key string) error {
	obj, exists, err := w.informer.GetIndexer().GetByKey(key)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		return nil
	}

	ids, ready := containerIDs(pod)
	if !ready {
		return nil
	}

	if pod.Status.PodIP == "" {
		return nil
	}

	identity, selectors := resolveWorkloadIdentity(ctx, w.clientset, pod)

	podObj, err := json.Marshal(pod)
	if err != nil {
		return fmt.Errorf("marshal pod object: %w", err)
	}

	detail := types.PodDetail{
		PodName:           pod.Name,
		PodNamespace:      pod.Namespace,
		PodIP:             pod.Status.PodIP,
		NodeName:          w.cfg.Node,
		PodObj:            string(podObj),
		TimeStamp:         time.Now().UTC(),
		IsDead:            false,
		PodIdentity:       identity,
		WorkloadSelectors: selectors,
	}

	if err := w.broker.UpsertPod(ctx, detail); err != nil {
		return fmt.Errorf("upsert pod %s: %w", pod.Name, err)
	}

	if w.cfg.IgnoreDaemonsetTraffic && isBackedByDaemonSet(pod) {
		if ip := ipToUint32(pod.Status.PodIP); ip != 0 {
			w.ignorer.IgnoreIP(ip)
		}
	}

	if !shouldProcessPod(pod.Namespace, w.cfg.ExcludedNamespaces) {
		metrics.WatcherSkippedTotal.WithLabelValues("excluded_namespace").Inc()
		return nil
	}

	for _, criID := range ids {
		inode, err := w.resolver.NetnsInode(ctx, criID)
		if err != nil {
			log.WithComponent("watcher").Debug().Err(err).Str("pod", pod.Name).Str("container_id", criID).Msg("failed to resolve netns inode")
			continue
		}

		w.corr.Set(inode, types.PodMetadata{
			PodName:           pod.Name,
			PodNamespace:      pod.Namespace,
			PodIP:             pod.Status.PodIP,
			ContainerID:       criID,
			WorkloadIdentity:  identity,
			WorkloadSelectors: selectors,
		})
		w.admitter.AdmitInode(inode)
		metrics.WatcherPodsTrackedTotal.WithLabelValues(pod.Namespace).Inc()
		return nil
	}

	return nil
}

// PodNamesOnNode implements reconciler.ClusterLister over this watcher's
// informer cache: the set of pod names the orchestrator currently runs on
// this node.
func (w *PodWatcher) PodNamesOnNode(ctx context.Context, node string) (map[string]struct{}, error) {
	names := make(map[string]struct{})
	for _, obj := range w.informer.GetStore().List() {
		pod, ok := obj.(*corev1.Pod)
		if !ok {
			continue
		}
		if pod.Spec.NodeName == node {
			names[pod.Name] = struct{}{}
		}
	}
	return names, nil
}

func ipToUint32(ip string) uint32 {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return 0
	}
	return binary.BigEndian.Uint32(parsed)
}
