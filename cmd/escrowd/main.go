// Command escrowd wires the escrow engine's orchestrators and, unless
// disabled, serves their Prometheus metrics. It is not a REST API: every
// other surface (HTTP contract CRUD, auth, persistence) is out of scope
// per spec.md's Non-goals, so this binary's job ends at construction and a
// metrics listener.
package main

import (
	"flag"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkade-os/escrow-engine/container"
)

func main() {
	configPath := flag.String("config", "", "path to an optional config file")
	flag.Parse()

	c, err := container.NewContainer(*configPath)
	if err != nil {
		panic(err)
	}
	log := c.Log

	log.WithFields(map[string]any{
		"demo_mode":             c.Config.DemoMode,
		"unilateral_exit_delay": c.Config.UnilateralExitDelay,
		"metrics_addr":          c.Config.MetricsAddr,
	}).Info("escrow engine wired")

	if c.Config.MetricsAddr == "" {
		select {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))

	log.WithField("addr", c.Config.MetricsAddr).Info("serving metrics")
	if err := http.ListenAndServe(c.Config.MetricsAddr, mux); err != nil {
		log.WithError(err).Fatal("metrics server exited")
	}
}
