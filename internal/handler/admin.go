package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"tcsgo-engine/internal/kvstore"
	"tcsgo-engine/internal/service"
	"tcsgo-engine/pkg/apierror"
	"tcsgo-engine/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	economy   *service.EconomyService
	reconcile *service.ReconcileService
	sqlite    *kvstore.SQLiteStore // nil unless the sqlite backend is active
	storeType string
	loginKey  string
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	economy *service.EconomyService,
	reconcile *service.ReconcileService,
	sqlite *kvstore.SQLiteStore,
	storeType string,
	loginKey string,
) *AdminHandler {
	return &AdminHandler{
		economy:   economy,
		reconcile: reconcile,
		sqlite:    sqlite,
		storeType: storeType,
		loginKey:  loginKey,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.storeType

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	// Queue stats
	queueStats := map[string]interface{}{"owner_id": h.economy.OwnerID()}
	if depth, err := h.economy.QueueDepth(ctx); err == nil {
		queueStats["depth"] = depth
	} else {
		queueStats["error"] = err.Error()
	}
	if lock, err := h.economy.QueueLock(ctx); err == nil && lock != nil {
		queueStats["lock"] = map[string]interface{}{
			"owner_id":  lock.OwnerID,
			"timestamp": lock.Timestamp.Format(time.RFC3339),
		}
	}
	stats["queue"] = queueStats

	// Store stats
	if h.sqlite != nil {
		sqliteStats, err := h.sqlite.Stats(ctx)
		if err == nil {
			sqliteStats["status"] = "connected"
			stats["sqlite"] = sqliteStats
		} else {
			stats["sqlite"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	// Runtime info
	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// GetHealth handles GET /api/v1/admin/health
func (h *AdminHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// TriggerReconcile handles POST /api/v1/admin/reconcile/{platform}/{username}
// It merges every inventory linked to the given identity into one.
func (h *AdminHandler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromURL(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	report, err := h.reconcile.Reconcile(r.Context(), identity)
	if err != nil {
		if errors.Is(err, service.ErrReconcileBusy) {
			response.Error(w, apierror.Conflict(err.Error()))
			return
		}
		response.Error(w, apierror.InternalError("reconcile failed: "+err.Error()))
		return
	}
	response.OK(w, report)
}

// LoginRequest represents the admin login request body.
type LoginRequest struct {
	Key string `json:"key"`
}

// VerifyLogin handles POST /api/v1/admin/login
func (h *AdminHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	if h.loginKey == "" || req.Key != h.loginKey {
		response.Error(w, apierror.Unauthorized("invalid login key"))
		return
	}

	response.OK(w, map[string]string{"status": "authorized"})
}
