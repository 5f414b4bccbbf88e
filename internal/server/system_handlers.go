package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers serves process and host statistics.
type SystemHandlers struct {
	queue   QueueService
	started time.Time
	log     zerolog.Logger
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(q QueueService, started time.Time, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		queue:   q,
		started: started,
		log:     log.With().Str("component", "system_handlers").Logger(),
	}
}

// SystemStatsResponse is the body of GET /api/system/stats.
type SystemStatsResponse struct {
	CPUPercent    float64 `json:"cpu_percent"`
	RAMPercent    float64 `json:"ram_percent"`
	RAMUsedMB     uint64  `json:"ram_used_mb"`
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   uint64  `json:"heap_alloc_mb"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	QueueDepth    int     `json:"queue_depth"`
	QueuePaused   bool    `json:"queue_paused"`
}

// HandleStats handles GET /api/system/stats. Host metrics that cannot be
// read are reported as zero.
func (h *SystemHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatsResponse{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}

	if percents, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	} else if len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	} else {
		resp.RAMPercent = vm.UsedPercent
		resp.RAMUsedMB = vm.Used / 1024 / 1024
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	resp.HeapAllocMB = ms.HeapAlloc / 1024 / 1024

	if h.queue != nil {
		stats := h.queue.Stats()
		resp.QueueDepth = stats.Depth
		resp.QueuePaused = stats.Paused
	}

	writeJSON(w, http.StatusOK, resp, h.log)
}
