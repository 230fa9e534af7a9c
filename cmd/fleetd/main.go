package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/flotilla/internal/orchestrator"
)

// proberConfig selects and tunes the health prober. Mode "http" probes
// node addresses over HTTP; "sim" flips a weighted coin per probe.
type proberConfig struct {
	Mode        string  `yaml:"mode"`
	SuccessRate float64 `yaml:"success_rate"`
}

// executorConfig tunes the simulated executor.
type executorConfig struct {
	SuccessRate float64       `yaml:"success_rate"`
	MinLatency  time.Duration `yaml:"min_latency"`
	MaxLatency  time.Duration `yaml:"max_latency"`
}

// UnmarshalYAML parses the latency fields from duration strings.
func (c *executorConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		SuccessRate float64 `yaml:"success_rate"`
		MinLatency  string  `yaml:"min_latency"`
		MaxLatency  string  `yaml:"max_latency"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.SuccessRate != 0 {
		c.SuccessRate = raw.SuccessRate
	}
	for _, f := range []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"min_latency", raw.MinLatency, &c.MinLatency},
		{"max_latency", raw.MaxLatency, &c.MaxLatency},
	} {
		if f.val == "" {
			continue
		}
		d, err := time.ParseDuration(f.val)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

type config struct {
	Addr         string              `yaml:"addr"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Prober       proberConfig        `yaml:"prober"`
	Executor     executorConfig      `yaml:"executor"`
}

func defaultConfig() config {
	return config{
		Addr:         getenv("FLEETD_ADDR", ":8080"),
		Orchestrator: orchestrator.DefaultConfig(),
		Prober:       proberConfig{Mode: "sim", SuccessRate: 0.98},
		Executor: executorConfig{
			SuccessRate: 0.95,
			MinLatency:  50 * time.Millisecond,
			MaxLatency:  500 * time.Millisecond,
		},
	}
}

// loadConfig returns the defaults overlaid with the YAML file at path,
// if one is given.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	configPath := pflag.String("config", "", "path to YAML config file")
	addr := pflag.String("addr", "", "listen address (overrides config)")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	var prober orchestrator.Prober
	switch cfg.Prober.Mode {
	case "http":
		prober = newHTTPProber(cfg.Orchestrator.ProbeTimeout)
	default:
		prober = &simProber{rate: cfg.Prober.SuccessRate}
	}
	executor := &simExecutor{
		rate:       cfg.Executor.SuccessRate,
		minLatency: cfg.Executor.MinLatency,
		maxLatency: cfg.Executor.MaxLatency,
	}

	orch := orchestrator.New(cfg.Orchestrator, prober, executor)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	orch.Start(ctx)

	srv := newServer(orch)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("fleetd listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
	orch.Stop()
	log.Println("fleetd stopped")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
