package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kguardian-dev/kguardian/pkg/types"
)

type fakeBroker struct {
	alive     []types.PodDetail
	markedDead []string
	attempted []string
	aliveErr  error
	markErr   error
}

func (f *fakeBroker) AlivePodsOnNode(ctx context.Context, node string) ([]types.PodDetail, error) {
	return f.alive, f.aliveErr
}

func (f *fakeBroker) MarkDead(ctx context.Context, podName string) error {
	f.attempted = append(f.attempted, podName)
	if f.markErr != nil {
		return f.markErr
	}
	f.markedDead = append(f.markedDead, podName)
	return nil
}

type fakeCluster struct {
	running map[string]struct{}
	err     error
}

func (f *fakeCluster) PodNamesOnNode(ctx context.Context, node string) (map[string]struct{}, error) {
	return f.running, f.err
}

func TestReconcile_MarksDeadPodsMissingFromCluster(t *testing.T) {
	broker := &fakeBroker{alive: []types.PodDetail{{PodName: "p1"}, {PodName: "p2"}}}
	cluster := &fakeCluster{running: map[string]struct{}{"p1": {}}}

	r := New("node-a", broker, cluster)
	require.NoError(t, r.reconcile(context.Background()))

	assert.Equal(t, []string{"p2"}, broker.markedDead)
}

func TestReconcile_NoDiffMarksNothing(t *testing.T) {
	broker := &fakeBroker{alive: []types.PodDetail{{PodName: "p1"}}}
	cluster := &fakeCluster{running: map[string]struct{}{"p1": {}}}

	r := New("node-a", broker, cluster)
	require.NoError(t, r.reconcile(context.Background()))

	assert.Empty(t, broker.markedDead)
}

func TestReconcile_BrokerErrorSkipsCycleWithoutMarking(t *testing.T) {
	broker := &fakeBroker{aliveErr: assertErr}
	cluster := &fakeCluster{running: map[string]struct{}{}}

	r := New("node-a", broker, cluster)
	err := r.reconcile(context.Background())

	require.Error(t, err)
	assert.Empty(t, broker.markedDead)
}

func TestReconcile_MarkDeadFailureDoesNotAbortRemainingPods(t *testing.T) {
	broker := &fakeBroker{
		alive:   []types.PodDetail{{PodName: "p1"}, {PodName: "p2"}},
		markErr: assertErr,
	}
	cluster := &fakeCluster{running: map[string]struct{}{}}

	r := New("node-a", broker, cluster)
	require.NoError(t, r.reconcile(context.Background()))
	assert.Equal(t, []string{"p1", "p2"}, broker.attempted)
	assert.Empty(t, broker.markedDead)
}

var assertErr = context.DeadlineExceeded
