package network

import (
	"context"
	"net/http"
	"time"

	"github.com/stevedores/dashboard-sync/internal/logging"
)

// ProberConfig configures connectivity probing.
type ProberConfig struct {
	URL      string        `mapstructure:"probe_url"`
	Interval time.Duration `mapstructure:"probe_interval"`
	Timeout  time.Duration `mapstructure:"probe_timeout"`
}

// Prober polls a health endpoint and feeds the result into a Monitor.
// On a headless terminal this is the platform connectivity signal.
type Prober struct {
	cfg     ProberConfig
	client  *http.Client
	monitor *Monitor
}

// NewProber creates a Prober. Zero durations fall back to 15s/3s.
func NewProber(cfg ProberConfig, monitor *Monitor) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Prober{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		monitor: monitor,
	}
}

// Probe performs one health check and updates the monitor's
// reachability. It does not override an offline platform signal.
func (p *Prober) Probe(ctx context.Context) bool {
	reachable := p.check(ctx)
	if reachable != p.monitor.IsReachable() {
		logging.Info("server reachability changed", map[string]interface{}{
			"reachable": reachable,
			"url":       p.cfg.URL,
		})
	}
	p.monitor.SetReachable(reachable)
	return reachable
}

func (p *Prober) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("health probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
