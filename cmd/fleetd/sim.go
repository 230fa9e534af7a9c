package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/dreamware/flotilla/internal/fleet"
)

// httpProber checks node health over HTTP: GET <addr>/health, where
// anything but 200 (or a transport error) is a failure. Nodes without
// an address, and instances (which expose no endpoint of their own),
// probe healthy.
type httpProber struct {
	client *http.Client
}

func newHTTPProber(timeout time.Duration) *httpProber {
	return &httpProber{client: &http.Client{Timeout: timeout}}
}

func (p *httpProber) ProbeNode(ctx context.Context, node *fleet.Node) error {
	if node.Addr == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.Addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (p *httpProber) ProbeInstance(ctx context.Context, inst *fleet.Instance) error {
	return nil
}

// simProber succeeds each probe with probability rate.
type simProber struct {
	rate float64
}

func (p *simProber) ProbeNode(ctx context.Context, node *fleet.Node) error {
	if rand.Float64() >= p.rate {
		return fmt.Errorf("simulated probe failure for node %s", node.Name)
	}
	return nil
}

func (p *simProber) ProbeInstance(ctx context.Context, inst *fleet.Instance) error {
	if rand.Float64() >= p.rate {
		return fmt.Errorf("simulated probe failure for instance %s", inst.ID)
	}
	return nil
}

// simExecutor completes workloads and deploys after a random latency in
// [minLatency, maxLatency], succeeding with probability rate.
type simExecutor struct {
	rate       float64
	minLatency time.Duration
	maxLatency time.Duration
}

func (e *simExecutor) sleep(ctx context.Context) error {
	d := e.minLatency
	if e.maxLatency > e.minLatency {
		d += time.Duration(rand.Int63n(int64(e.maxLatency - e.minLatency)))
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *simExecutor) ExecuteWorkload(ctx context.Context, w *fleet.Workload) (string, error) {
	if err := e.sleep(ctx); err != nil {
		return "", err
	}
	if rand.Float64() >= e.rate {
		return "", fmt.Errorf("simulated execution failure for workload %s", w.ID)
	}
	return fmt.Sprintf("%s workload completed", w.Type), nil
}

func (e *simExecutor) DeployInstance(ctx context.Context, inst *fleet.Instance) error {
	if err := e.sleep(ctx); err != nil {
		return err
	}
	if rand.Float64() >= e.rate {
		return fmt.Errorf("simulated deploy failure for instance %s", inst.ID)
	}
	return nil
}
