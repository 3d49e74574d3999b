package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kguardian-dev/kguardian/pkg/log"
	"github.com/kguardian-dev/kguardian/pkg/metrics"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

const interval = 60 * time.Second

// BrokerClient is the subset of brokerclient.Client the reconciler needs.
type BrokerClient interface {
	AlivePodsOnNode(ctx context.Context, node string) ([]types.PodDetail, error)
	MarkDead(ctx context.Context, podName string) error
}

// ClusterLister reports which pods the orchestrator currently runs on this node.
type ClusterLister interface {
	PodNamesOnNode(ctx context.Context, node string) (map[string]struct{}, error)
}

// Reconciler periodically reconciles the broker's alive-pod set for this
// node against what the orchestrator actually reports running, marking
// dead anything the broker still believes alive but the cluster no longer
// runs (C7).
type Reconciler struct {
	node    string
	broker  BrokerClient
	cluster ClusterLister
	logger  zerolog.Logger
	stopCh  chan struct{}
}

// New creates a reconciler for the given node.
func New(node string, broker BrokerClient, cluster ClusterLister) *Reconciler {
	return &Reconciler{
		node:    node,
		broker:  broker,
		cluster: cluster,
		logger:  log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop on its own goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Str("node", r.node).Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed, skipping tick")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile runs one cycle: diff the broker's alive set against the
// cluster's running set and mark dead whatever the broker still thinks is
// alive but the cluster no longer reports.
func (r *Reconciler) reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	alive, err := r.broker.AlivePodsOnNode(ctx, r.node)
	if err != nil {
		return err
	}

	running, err := r.cluster.PodNamesOnNode(ctx, r.node)
	if err != nil {
		return err
	}

	for _, pod := range alive {
		if _, ok := running[pod.PodName]; ok {
			continue
		}
		if err := r.broker.MarkDead(ctx, pod.PodName); err != nil {
			r.logger.Error().Err(err).Str("pod", pod.PodName).Msg("failed to mark pod dead")
			continue
		}
		metrics.ReconciliationMarkedDeadTotal.Inc()
		r.logger.Info().Str("pod", pod.PodName).Msg("marked pod dead, missing from cluster")
	}

	return nil
}
