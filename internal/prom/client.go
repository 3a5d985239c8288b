package prom

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Client answers point-in-time PromQL queries against a Prometheus server.
// Every failure mode (unreachable server, non-success status, empty result
// set, non-numeric sample) collapses into "no value": a metrics hiccup must
// never abort an evaluation pass.
type Client struct {
	api     v1.API
	timeout time.Duration
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	c, err := api.NewClient(api.Config{Address: baseURL})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{api: v1.NewAPI(c), timeout: timeout, log: logger}, nil
}

// Query evaluates expr at the current instant and returns the first sample
// of the result vector. ok is false when there is no usable value.
func (c *Client) Query(ctx context.Context, expr string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	val, warnings, err := c.api.Query(ctx, expr, time.Now())
	if err != nil {
		c.log.Warn("prometheus query failed", "err", err)
		return 0, false
	}
	if len(warnings) > 0 {
		c.log.Warn("prometheus query warnings", "warnings", warnings)
	}
	vec, ok := val.(model.Vector)
	if !ok || vec.Len() == 0 {
		return 0, false
	}
	v := float64(vec[0].Value)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ServerSummary runs the five standard node-exporter queries for a server
// and merges whichever resolve. A metric that fails to resolve is simply
// absent from the map.
func (c *Client) ServerSummary(ctx context.Context, jobName, instance string) map[string]float64 {
	sel := fmt.Sprintf(`job=%q,instance=%q`, jobName, instance)
	queries := map[string]string{
		"cpu_usage_percent":        fmt.Sprintf(`100 - (avg by(instance) (irate(node_cpu_seconds_total{mode="idle",%s}[5m])) * 100)`, sel),
		"memory_usage_percent":     fmt.Sprintf(`(1 - (node_memory_MemAvailable_bytes{%s} / node_memory_MemTotal_bytes{%s})) * 100`, sel, sel),
		"disk_usage_percent":       fmt.Sprintf(`100 - ((node_filesystem_avail_bytes{%s,mountpoint="/",fstype!="rootfs"} * 100) / node_filesystem_size_bytes{%s,mountpoint="/",fstype!="rootfs"})`, sel, sel),
		"network_rx_bytes_per_sec": fmt.Sprintf(`rate(node_network_receive_bytes_total{%s}[5m])`, sel),
		"network_tx_bytes_per_sec": fmt.Sprintf(`rate(node_network_transmit_bytes_total{%s}[5m])`, sel),
	}
	out := make(map[string]float64, len(queries))
	for name, q := range queries {
		if v, ok := c.Query(ctx, q); ok {
			out[name] = v
		}
	}
	return out
}
