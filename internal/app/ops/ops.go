// Package ops serves the operational endpoints on their own listener:
// liveness, readiness, Prometheus metrics and a host resource snapshot.
// Probes and scrapers reach these without credentials, so the listener must
// never be exposed beyond the deployment network.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/schemaflow/platform/internal/app/metrics"
	"github.com/schemaflow/platform/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether the persistence backend is reachable. *sql.DB
// satisfies it; deployments on memory stores pass nil and are always ready.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewRouter assembles the operational endpoints.
func NewRouter(db Pinger, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("ops")
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "database": "none"})
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), readinessTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.WithError(err).Warn("readiness probe failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "database": "ok"})
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/debug/sysinfo", sysinfo)

	return r
}

// sysinfo reports host and process resource usage for ad-hoc diagnosis.
// Collector failures drop the affected section rather than failing the
// request.
func sysinfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"num_cpu":    runtime.NumCPU(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info["heap_alloc_bytes"] = ms.HeapAlloc
	info["heap_sys_bytes"] = ms.HeapSys
	info["num_gc"] = ms.NumGC

	if h, err := host.InfoWithContext(r.Context()); err == nil {
		info["host"] = map[string]interface{}{
			"hostname":       h.Hostname,
			"os":             h.OS,
			"platform":       h.Platform,
			"kernel_version": h.KernelVersion,
			"uptime_sec":     h.Uptime,
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		info["memory"] = map[string]interface{}{
			"total_bytes":  vm.Total,
			"used_bytes":   vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		info["cpu_percent"] = percents[0]
	}

	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
