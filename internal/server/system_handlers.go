package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/beacon/internal/database"
	"github.com/aristath/beacon/internal/events"
)

// SystemHandlers serves the monitoring endpoints: liveness, resource
// usage and database statistics.
type SystemHandlers struct {
	log          zerolog.Logger
	dataDir      string
	cacheBackend string
	startupTime  time.Time
	bus          *events.Bus
	databases    []*database.DB
}

// NewSystemHandlers creates a new system handlers instance.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	cacheBackend string,
	bus *events.Bus,
	databases ...*database.DB,
) *SystemHandlers {
	return &SystemHandlers{
		log:          log.With().Str("component", "system_handlers").Logger(),
		dataDir:      dataDir,
		cacheBackend: cacheBackend,
		startupTime:  time.Now(),
		bus:          bus,
		databases:    databases,
	}
}

// HandleHealth is the liveness probe: a ping against every database.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(h.databases))
	for _, db := range h.databases {
		if err := db.HealthCheck(ctx); err != nil {
			checks[db.Name()] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			checks[db.Name()] = "ok"
		}
	}

	h.writeJSON(w, code, map[string]any{
		"status":    status,
		"databases": checks,
		"uptime_s":  int64(time.Since(h.startupTime).Seconds()),
	})
}

// SystemStatusResponse is the full monitoring snapshot.
type SystemStatusResponse struct {
	UptimeSeconds    int64   `json:"uptime_seconds"`
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DataDirSizeMB    float64 `json:"data_dir_size_mb"`
	CacheBackend     string  `json:"cache_backend"`
	EventSubscribers int     `json:"event_subscribers"`
	EventsDropped    int64   `json:"events_dropped"`
}

// HandleSystemStatus returns the monitoring snapshot.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.systemStats()

	h.writeJSON(w, http.StatusOK, SystemStatusResponse{
		UptimeSeconds:    int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:       cpuPercent,
		MemoryPercent:    memPercent,
		DataDirSizeMB:    h.dirSize(h.dataDir),
		CacheBackend:     h.cacheBackend,
		EventSubscribers: h.bus.SubscriberCount(),
		EventsDropped:    h.bus.Dropped(),
	})
}

// DatabaseStatsResponse describes one database file.
type DatabaseStatsResponse struct {
	Name          string `json:"name"`
	SizeBytes     int64  `json:"size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	PageCount     int64  `json:"page_count"`
	PageSize      int64  `json:"page_size"`
	FreelistCount int64  `json:"freelist_count"`
}

// HandleDatabaseStats returns size and page statistics per database.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	out := make([]DatabaseStatsResponse, 0, len(h.databases))
	for _, db := range h.databases {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to collect database stats")
			continue
		}
		out = append(out, DatabaseStatsResponse{
			Name:          db.Name(),
			SizeBytes:     stats.SizeBytes,
			WALSizeBytes:  stats.WALSizeBytes,
			PageCount:     stats.PageCount,
			PageSize:      stats.PageSize,
			FreelistCount: stats.FreelistCount,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"databases": out})
}

// systemStats samples CPU and RAM usage. The CPU sample uses a short
// interval so the endpoint stays fast for pollers.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

// dirSize calculates the total size of a directory in MB.
func (h *SystemHandlers) dirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
