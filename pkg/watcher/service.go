package watcher

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/workqueue"

	"github.com/kguardian-dev/kguardian/pkg/log"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

// ServiceUpserter is the subset of brokerclient.Client the service
// watcher needs.
type ServiceUpserter interface {
	UpsertService(ctx context.Context, svc types.SvcDetail) error
}

// ServiceWatcher subscribes to cluster-wide service changes and upserts
// each service's IP/name/namespace to the broker (C3). Unlike the pod
// watcher it is not scoped to a single node: services are cluster-level
// objects every node needs the same view of.
type ServiceWatcher struct {
	broker   ServiceUpserter
	informer cache.SharedIndexInformer
	queue    workqueue.RateLimitingInterface
}

// NewServiceWatcher creates a service watcher. Call Run to start it.
func NewServiceWatcher(clientset kubernetes.Interface, broker ServiceUpserter) *ServiceWatcher {
	w := &ServiceWatcher{
		broker: broker,
		queue:  workqueue.NewNamedRateLimitingQueue(workqueue.DefaultControllerRateLimiter(), "service-watcher"),
	}

	listWatch := &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			return clientset.CoreV1().Services(metav1.NamespaceAll).List(context.Background(), options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			return clientset.CoreV1().Services(metav1.NamespaceAll).Watch(context.Background(), options)
		},
	}

	w.informer = cache.NewSharedIndexInformer(listWatch, &corev1.Service{}, 0, cache.Indexers{
		cache.NamespaceIndex: cache.MetaNamespaceIndexFunc,
	})

	w.informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj interface{}) { w.enqueue(obj) },
		UpdateFunc: func(_, obj interface{}) { w.enqueue(obj) },
	})

	return w
}

func (w *ServiceWatcher) enqueue(obj interface{}) {
	key, err := cache.MetaNamespaceKeyFunc(obj)
	if err != nil {
		return
	}
	w.queue.Add(key)
}

// Run starts the informer and a single worker, blocking until ctx is canceled.
func (w *ServiceWatcher) Run(ctx context.Context) error {
	defer w.queue.ShutDown()

	go w.informer.Run(ctx.Done())

	if !cache.WaitForCacheSync(ctx.Done(), w.informer.HasSynced) {
		return fmt.Errorf("service watcher: cache never synced")
	}

	go w.runWorker(ctx)

	<-ctx.Done()
	return nil
}

func (w *ServiceWatcher) runWorker(ctx context.Context) {
	for w.processNextItem(ctx) {
	}
}

func (w *ServiceWatcher) processNextItem(ctx context.Context) bool {
	key, shutdown := w.queue.Get()
	if shutdown {
		return false
	}
	defer w.queue.Done(key)

	if err := w.process(ctx, key.(string)); err != nil {
		log.WithComponent("watcher").Error().Err(err).Str("key", key.(string)).Msg("failed to process service, retrying with backoff")
		w.queue.AddRateLimited(key)
		return true
	}

	w.queue.Forget(key)
	return true
}

func (w *ServiceWatcher) process(ctx context.Context, key string) error {
	obj, exists, err := w.informer.GetIndexer().GetByKey(key)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	svc, ok := obj.(*corev1.Service)
	if !ok {
		return nil
	}
	if svc.Spec.ClusterIP == "" || svc.Spec.ClusterIP == corev1.ClusterIPNone {
		return nil
	}

	detail := types.SvcDetail{
		SvcIP:        svc.Spec.ClusterIP,
		SvcName:      svc.Name,
		SvcNamespace: svc.Namespace,
		TimeStamp:    time.Now().UTC(),
	}

	if err := w.broker.UpsertService(ctx, detail); err != nil {
		return fmt.Errorf("upsert service %s: %w", svc.Name, err)
	}
	return nil
}
