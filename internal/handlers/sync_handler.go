package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/models"
	"github.com/prudhvinik1/chatsync/internal/services"
)

// SyncHandler exposes the authenticated sync RPC surface. Caller identity
// comes from the auth middleware; the target device is named per request.
type SyncHandler struct {
	sync      *services.SyncService
	pull      *services.PullService
	push      *services.PushService
	resolver  *services.ResolverService
	optimizer *services.OptimizerService
}

func NewSyncHandler(
	sync *services.SyncService,
	pull *services.PullService,
	push *services.PushService,
	resolver *services.ResolverService,
	optimizer *services.OptimizerService,
) *SyncHandler {
	return &SyncHandler{
		sync:      sync,
		pull:      pull,
		push:      push,
		resolver:  resolver,
		optimizer: optimizer,
	}
}

// deviceOr falls back to the device bound to the auth token when the
// request does not name one.
func deviceOr(ctx context.Context, id uuid.UUID) uuid.UUID {
	if id != uuid.Nil {
		return id
	}
	return deviceIDFrom(ctx)
}

func (h *SyncHandler) Routes(r chi.Router) {
	r.Post("/devices", h.RegisterDevice)
	r.Post("/pull", h.Pull)
	r.Post("/push", h.Push)
	r.Post("/conflicts/{conflictID}/resolve", h.ResolveConflict)
	r.Get("/config", h.GetConfig)
	r.Put("/config", h.SetConfig)
	r.Get("/status", h.Status)
	r.Post("/force", h.ForceSync)
	r.Post("/optimize", h.Optimize)
}

type registerDeviceRequest struct {
	Fingerprint string `json:"fingerprint"`
}

func (h *SyncHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := h.sync.RegisterDevice(r.Context(), accountIDFrom(r.Context()), req.Fingerprint)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, device)
}

type pullRequest struct {
	DeviceID       uuid.UUID  `json:"device_id"`
	Checkpoint     *time.Time `json:"checkpoint,omitempty"`
	BatchSize      int        `json:"batch_size,omitempty"`
	IncludeDeleted bool       `json:"include_deleted,omitempty"`
}

func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.pull.Pull(r.Context(), accountIDFrom(r.Context()), deviceOr(r.Context(), req.DeviceID), req.Checkpoint, req.BatchSize, req.IncludeDeleted)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type pushRequest struct {
	DeviceID uuid.UUID                `json:"device_id"`
	Events   []services.IncomingEvent `json:"events"`
}

func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.push.Push(r.Context(), accountIDFrom(r.Context()), deviceOr(r.Context(), req.DeviceID), req.Events)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type resolveRequest struct {
	Strategy      models.ResolutionStrategy `json:"strategy"`
	MergedPayload json.RawMessage           `json:"merged_payload,omitempty"`
}

func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID, err := uuid.Parse(chi.URLParam(r, "conflictID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid conflict id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.resolver.Resolve(r.Context(), accountIDFrom(r.Context()), conflictID, req.Strategy, req.MergedPayload)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *SyncHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	config, err := h.sync.GetConfig(r.Context(), accountIDFrom(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, config)
}

type setConfigRequest struct {
	Mode           models.SyncMode `json:"mode"`
	AutoSync       bool            `json:"auto_sync"`
	SyncIntervalMs int64           `json:"sync_interval_ms"`
}

func (h *SyncHandler) SetConfig(w http.ResponseWriter, r *http.Request) {
	var req setConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	config, err := h.sync.SetConfig(r.Context(), &models.SyncConfig{
		AccountID:      accountIDFrom(r.Context()),
		Mode:           req.Mode,
		AutoSync:       req.AutoSync,
		SyncIntervalMs: req.SyncIntervalMs,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, config)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDFrom(r.Context())
	if raw := r.URL.Query().Get("device_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid device id")
			return
		}
		deviceID = parsed
	}

	status, err := h.sync.Status(r.Context(), accountIDFrom(r.Context()), deviceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type forceSyncRequest struct {
	DeviceID   uuid.UUID         `json:"device_id"`
	EntityType models.EntityType `json:"entity_type"`
	FullSync   bool              `json:"full_sync"`
}

func (h *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	var req forceSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snapshots, err := h.sync.ForceSync(r.Context(), accountIDFrom(r.Context()), deviceOr(r.Context(), req.DeviceID), req.EntityType, req.FullSync)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entities": snapshots})
}

type optimizeRequest struct {
	DeviceID uuid.UUID `json:"device_id"`
}

func (h *SyncHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The device must belong to the caller even though compaction is
	// account-wide.
	if _, err := h.sync.Status(r.Context(), accountIDFrom(r.Context()), deviceOr(r.Context(), req.DeviceID)); err != nil {
		respondServiceError(w, err)
		return
	}

	summary, err := h.optimizer.Optimize(r.Context(), accountIDFrom(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
