package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/aristath/fundtrack/internal/database"
	"github.com/aristath/fundtrack/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// JobLister reports registered jobs; implemented by *scheduler.Scheduler
type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// JobFinder resolves jobs by name; implemented by *di.JobInstances
type JobFinder interface {
	ByName(name string) (scheduler.Job, bool)
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   map[string]*database.DB
	scheduler   JobLister
	jobs        JobFinder
	runJob      func(job scheduler.Job)
}

// NewSystemHandlers creates a new system handlers instance. lister and finder may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases map[string]*database.DB,
	lister JobLister,
	finder JobFinder,
) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		scheduler:   lister,
		jobs:        finder,
	}
	h.runJob = func(job scheduler.Job) {
		go h.runInBackground(job)
	}
	return h
}

// SystemStatusResponse represents the system status
type SystemStatusResponse struct {
	Status         string  `json:"status"` // "healthy" or "unhealthy"
	Uptime         string  `json:"uptime"`
	GoVersion      string  `json:"go_version"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	Goroutines     int     `json:"goroutines"`
	OperationCount int     `json:"operation_count"`
	ActivePlans    int     `json:"active_plans"`
	JobCount       int     `json:"job_count"`
}

// JobsStatusResponse represents scheduler job status
type JobsStatusResponse struct {
	TotalJobs int       `json:"total_jobs"`
	Jobs      []JobInfo `json:"jobs"`
}

// JobInfo represents information about a single job
type JobInfo struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	LastRun  string `json:"last_run,omitempty"`
	NextRun  string `json:"next_run,omitempty"`
}

// DatabaseStatsResponse represents database statistics
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	LastChecked string   `json:"last_checked"`
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	Profile   string  `json:"profile"`
	SizeMB    float64 `json:"size_mb"`
	WALSizeMB float64 `json:"wal_size_mb"`
	PageCount int64   `json:"page_count"`
}

// DiskUsageResponse represents disk usage statistics
type DiskUsageResponse struct {
	DataDirMB   float64 `json:"data_dir_mb"`
	AvailableMB float64 `json:"available_mb,omitempty"`
	UsedPercent float64 `json:"used_percent,omitempty"`
}

// HandleSystemStatus returns process and ledger health
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		Uptime:        time.Since(h.startupTime).Round(time.Second).String(),
		GoVersion:     runtime.Version(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
	}

	if ledger, ok := h.databases["ledger"]; ok {
		if err := ledger.HealthCheck(r.Context()); err != nil {
			h.log.Error().Err(err).Msg("Ledger health check failed")
			response.Status = "unhealthy"
		}
		conn := ledger.Conn()
		if err := conn.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM operations").Scan(&response.OperationCount); err != nil {
			h.log.Warn().Err(err).Msg("Failed to count operations")
		}
		if err := conn.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM dca_plans WHERE status = 'active'").Scan(&response.ActivePlans); err != nil {
			h.log.Warn().Err(err).Msg("Failed to count active plans")
		}
	}

	if h.scheduler != nil {
		response.JobCount = len(h.scheduler.Jobs())
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleJobsStatus returns scheduler job status
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []JobInfo{}
	if h.scheduler != nil {
		for _, info := range h.scheduler.Jobs() {
			job := JobInfo{Name: info.Name, Schedule: info.Schedule}
			if !info.PrevRun.IsZero() {
				job.LastRun = info.PrevRun.Format(time.RFC3339)
			}
			if !info.NextRun.IsZero() {
				job.NextRun = info.NextRun.Format(time.RFC3339)
			}
			jobs = append(jobs, job)
		}
	}

	h.writeJSON(w, http.StatusOK, JobsStatusResponse{TotalJobs: len(jobs), Jobs: jobs})
}

// HandleTriggerJob starts a job outside its schedule.
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no jobs registered"})
		return
	}
	job, ok := h.jobs.ByName(name)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job " + name})
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job trigger")
	h.runJob(job)
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"job":     name,
		"message": "Job started",
	})
}

func (h *SystemHandlers) runInBackground(job scheduler.Job) {
	start := time.Now()
	if err := job.Run(); err != nil {
		h.log.Error().Err(err).Str("job", job.Name()).Msg("Manually triggered job failed")
		return
	}
	h.log.Info().Str("job", job.Name()).Dur("duration", time.Since(start)).Msg("Manually triggered job completed")
}

// HandleDatabaseStats returns database statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	response := DatabaseStatsResponse{
		Databases:   []DBInfo{},
		LastChecked: time.Now().Format(time.RFC3339),
	}
	for _, name := range names {
		db := h.databases[name]
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			continue
		}
		sizeMB := float64(stats.SizeBytes) / 1024 / 1024
		response.TotalSizeMB += sizeMB
		response.Databases = append(response.Databases, DBInfo{
			Name:      name,
			Path:      db.Path(),
			Profile:   string(db.Profile()),
			SizeMB:    sizeMB,
			WALSizeMB: float64(stats.WALSizeBytes) / 1024 / 1024,
			PageCount: stats.PageCount,
		})
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleDiskUsage returns disk usage statistics
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	response := DiskUsageResponse{DataDirMB: h.getDirSize(h.dataDir)}

	if usage, err := disk.Usage(h.dataDir); err == nil {
		response.AvailableMB = float64(usage.Free) / 1024 / 1024
		response.UsedPercent = usage.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Failed to get filesystem usage")
	}

	h.writeJSON(w, http.StatusOK, response)
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
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

// getSystemStats calculates CPU and RAM usage percentages over a short window
func (h *SystemHandlers) getSystemStats() (float64, float64) {
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

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data, h.log)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
