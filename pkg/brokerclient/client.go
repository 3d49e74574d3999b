// Package brokerclient is the agent-side HTTP client for the kguardian
// broker. All pipelines and the reconciler share one Client and its
// underlying *http.Client/http.Transport so connections to the broker are
// pooled rather than dialed per request.
package brokerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kguardian-dev/kguardian/pkg/metrics"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Client talks to the broker's ingest and query HTTP surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL (e.g. "http://broker:8080"), sharing
// one transport tuned for many small requests to a single host.
func New(baseURL string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Transport: transport,
			Timeout:   defaultTimeout,
		},
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return types.NewError(types.KindDeserialize, "marshal request body for "+path, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return types.NewError(types.KindBroker, "build request for "+path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.BrokerRequestsTotal.WithLabelValues(path, "error").Inc()
		return types.NewError(types.KindBroker, "POST "+path, err)
	}
	defer resp.Body.Close()

	metrics.BrokerRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if resp.StatusCode >= 300 {
		metrics.BrokerRequestsTotal.WithLabelValues(path, "rejected").Inc()
		return types.NewError(types.KindBroker, fmt.Sprintf("POST %s: broker returned %d", path, resp.StatusCode), nil)
	}
	metrics.BrokerRequestsTotal.WithLabelValues(path, "ok").Inc()
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return types.NewError(types.KindBroker, "build request for "+path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.BrokerRequestsTotal.WithLabelValues(path, "error").Inc()
		return types.NewError(types.KindBroker, "GET "+path, err)
	}
	defer resp.Body.Close()

	metrics.BrokerRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if resp.StatusCode >= 300 {
		metrics.BrokerRequestsTotal.WithLabelValues(path, "rejected").Inc()
		return types.NewError(types.KindBroker, fmt.Sprintf("GET %s: broker returned %d", path, resp.StatusCode), nil)
	}
	metrics.BrokerRequestsTotal.WithLabelValues(path, "ok").Inc()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.KindDeserialize, "decode response from "+path, err)
	}
	return nil
}

// UpsertPod pushes a pod spec update (C3).
func (c *Client) UpsertPod(ctx context.Context, pod types.PodDetail) error {
	return c.post(ctx, "/pod/spec", pod)
}

// UpsertService pushes a service spec update (C3).
func (c *Client) UpsertService(ctx context.Context, svc types.SvcDetail) error {
	return c.post(ctx, "/svc/spec", svc)
}

// MarkDead marks a pod dead by name (C7).
func (c *Client) MarkDead(ctx context.Context, podName string) error {
	return c.post(ctx, "/pod/mark_dead", types.MarkDeadRequest{PodName: podName})
}

// Traffic posts a single traffic record.
func (c *Client) Traffic(ctx context.Context, record types.PodTraffic) error {
	return c.post(ctx, "/pod/traffic", record)
}

// TrafficBatch posts a batch of traffic records (C4).
func (c *Client) TrafficBatch(ctx context.Context, batch []types.PodTraffic) error {
	return c.post(ctx, "/pod/traffic/batch", batch)
}

// PacketDropBatch posts a batch of policy-drop records (C5).
func (c *Client) PacketDropBatch(ctx context.Context, batch []types.PodPacketDrop) error {
	return c.post(ctx, "/pod/packet_drop/batch", batch)
}

// Syscalls posts accumulated per-pod syscall sets (C6).
func (c *Client) Syscalls(ctx context.Context, batch []types.PodInputSyscalls) error {
	return c.post(ctx, "/pod/syscalls", batch)
}

// AlivePodsOnNode returns the broker's view of pods alive on node (C7).
func (c *Client) AlivePodsOnNode(ctx context.Context, node string) ([]types.PodDetail, error) {
	var pods []types.PodDetail
	if err := c.get(ctx, "/pod/list/"+node, &pods); err != nil {
		return nil, err
	}
	return pods, nil
}

// PodByIP looks up a pod by IP.
func (c *Client) PodByIP(ctx context.Context, ip string) (types.PodDetail, error) {
	var pod types.PodDetail
	err := c.get(ctx, "/pod/by_ip/"+ip, &pod)
	return pod, err
}

// ServiceByIP looks up a service by IP.
func (c *Client) ServiceByIP(ctx context.Context, ip string) (types.SvcDetail, error) {
	var svc types.SvcDetail
	err := c.get(ctx, "/svc/by_ip/"+ip, &svc)
	return svc, err
}

// TrafficByPodName returns stored traffic records for a pod.
func (c *Client) TrafficByPodName(ctx context.Context, name string) ([]types.PodTraffic, error) {
	var records []types.PodTraffic
	if err := c.get(ctx, "/pod/traffic/"+name, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SyscallsByPodName returns the aggregated syscall rows for a pod.
func (c *Client) SyscallsByPodName(ctx context.Context, name string) ([]types.PodSyscalls, error) {
	var records []types.PodSyscalls
	if err := c.get(ctx, "/pod/syscalls/"+name, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// PodDetails returns the stored detail record for a pod by name.
func (c *Client) PodDetails(ctx context.Context, name string) (types.PodDetail, error) {
	var pod types.PodDetail
	err := c.get(ctx, "/pod/details/"+name, &pod)
	return pod, err
}
