package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkorchagin/camstream/internal/common"
	"github.com/mkorchagin/camstream/internal/server/models"
	"github.com/mkorchagin/camstream/internal/server/services"
)

type userDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type deviceDTO struct {
	DeviceID   string           `json:"deviceId"`
	Name       string           `json:"name"`
	LastSeenAt *time.Time       `json:"lastSeenAt,omitempty"`
	Location   *models.Location `json:"location,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type segmentDTO struct {
	ID         string           `json:"id"`
	DeviceID   string           `json:"deviceId"`
	DeviceName string           `json:"deviceName"`
	Segment    string           `json:"segment"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	DurationMs int64            `json:"durationMs"`
	SizeBytes  int64            `json:"sizeBytes"`
	MimeType   string           `json:"mimeType"`
	Location   *models.Location `json:"location,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

func toUserDTO(u *models.User) userDTO {
	return userDTO{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

func toDeviceDTO(d *models.DeviceSummary) deviceDTO {
	return deviceDTO{
		DeviceID:   d.DeviceID,
		Name:       d.Name,
		LastSeenAt: d.LastSeenAt,
		Location:   d.Location,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func toSegmentDTO(s *models.Segment) segmentDTO {
	return segmentDTO{
		ID:         s.ID,
		DeviceID:   s.DeviceID,
		DeviceName: s.DeviceName,
		Segment:    base64.StdEncoding.EncodeToString(s.Payload),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		DurationMs: s.DurationMs,
		SizeBytes:  s.SizeBytes,
		MimeType:   s.MimeType,
		Location:   s.Location,
		CreatedAt:  s.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service sentinels onto the stable status scheme.
// Internal failures always get an opaque message.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation) || errors.Is(err, common.ErrorInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrorInvalidCredentials) ||
		errors.Is(err, common.ErrInvalidToken) ||
		errors.Is(err, common.ErrorUnknownPrincipal) ||
		errors.Is(err, common.ErrorUnknownDevice) ||
		errors.Is(err, common.ErrorInvalidKey):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, common.ErrorDeviceMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrorEmailTaken) || errors.Is(err, common.ErrorFingerprintCollision):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string  `json:"token"`
	User  userDTO `json:"user"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.users.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{Token: session.Token, User: toUserDTO(session.User)})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Token: session.Token, User: toUserDTO(session.User)})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]userDTO{"user": toUserDTO(user)})
}

type provisionRequest struct {
	Name string `json:"name"`
}

type provisionResponse struct {
	DeviceID  string `json:"deviceId"`
	DeviceKey string `json:"deviceKey"`
	Name      string `json:"name"`
	Rotated   bool   `json:"rotated"`
}

func (h *Handler) provisionDevice(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user := userFromContext(r.Context())
	res, err := h.devices.Provision(r.Context(), user.ID, req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// The plaintext key appears here and nowhere else.
	writeJSON(w, http.StatusCreated, provisionResponse{
		DeviceID:  res.Device.DeviceID,
		DeviceKey: res.Key,
		Name:      res.Device.Name,
		Rotated:   res.Rotated,
	})
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	list, err := h.devices.List(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dtos := make([]deviceDTO, 0, len(list))
	for _, d := range list {
		dtos = append(dtos, toDeviceDTO(d))
	}
	writeJSON(w, http.StatusOK, map[string][]deviceDTO{"devices": dtos})
}

type ingestRequest struct {
	Segment    string           `json:"segment"`
	StartedAt  *int64           `json:"startedAt"`
	FinishedAt *int64           `json:"finishedAt"`
	DeviceName string           `json:"deviceName"`
	DeviceID   string           `json:"deviceId"`
	Location   *models.Location `json:"location"`
}

func (h *Handler) ingestSegment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPayloadBytes)

	var req ingestRequest
	if !decodeBody(w, r, &req) {
		return
	}

	device := deviceFromContext(r.Context())
	seg, err := h.segments.Ingest(r.Context(), device, &services.IngestInput{
		Payload:    req.Segment,
		StartedAt:  req.StartedAt,
		FinishedAt: req.FinishedAt,
		DeviceName: req.DeviceName,
		DeviceID:   req.DeviceID,
		Location:   req.Location,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "segmentId": seg.ID})
}

func (h *Handler) latestSegment(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	seg, err := h.segments.Latest(r.Context(), user.ID, deviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]segmentDTO{"segment": toSegmentDTO(seg)})
}

func (h *Handler) recentSegments(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	// A missing or unparsable limit falls back to the service default.
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.segments.Recent(r.Context(), user.ID, deviceID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dtos := make([]segmentDTO, 0, len(list))
	for _, seg := range list {
		dtos = append(dtos, toSegmentDTO(seg))
	}
	writeJSON(w, http.StatusOK, map[string][]segmentDTO{"segments": dtos})
}

func (h *Handler) downloadSegment(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	deviceID := chi.URLParam(r, "deviceID")
	segmentID := chi.URLParam(r, "segmentID")

	url, err := h.segments.DownloadURL(r.Context(), user.ID, deviceID, segmentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
