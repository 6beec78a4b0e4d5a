// Package api exposes the bridge over HTTP: the unauthenticated webhook
// the NVR pushes to, and the JWT-guarded command and query surface.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-nvr-bridge/internal/bridge"
	"github.com/technosupport/ts-nvr-bridge/internal/data"
	"github.com/technosupport/ts-nvr-bridge/internal/event"
	"github.com/technosupport/ts-nvr-bridge/internal/ingest"
	"github.com/technosupport/ts-nvr-bridge/internal/metrics"
	"github.com/technosupport/ts-nvr-bridge/internal/raysharp"
)

// maxWebhookBody bounds one push payload. AI pushes carry base64 JPEGs,
// so this is generous.
const maxWebhookBody = 16 << 20

type Handler struct {
	manager *bridge.Manager
	col     *metrics.Collector
}

func NewHandler(manager *bridge.Manager, col *metrics.Collector) *Handler {
	return &Handler{manager: manager, col: col}
}

// --- Requests ---

type PTZRequest struct {
	Channel   int    `json:"channel"`
	Command   string `json:"command"`
	State     string `json:"state"`
	Speed     int    `json:"speed,omitempty"`
	PresetNum int    `json:"preset_num,omitempty"`
}

type SnapshotRequest struct {
	Channel int `json:"channel"`
}

type AlarmOutputRequest struct {
	OutputID int  `json:"output_id"`
	Active   bool `json:"active"`
}

type RecordSearchRequest struct {
	Channels  []int  `json:"channels"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type AISearchRequest struct {
	Channels      []int    `json:"channels"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
	PlateNumbers  []string `json:"plate_numbers,omitempty"`
	MatchedOnly   bool     `json:"matched_only,omitempty"`
	IncludeImages bool     `json:"include_images,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
}

type PlateDBRequest struct {
	PlateNumbers []string `json:"plate_numbers"`
}

type StreamURLRequest struct {
	Channel    int  `json:"channel"`
	MainStream bool `json:"main_stream"`
}

// InstanceState is the per-instance status document. SessionAgeSeconds is
// -1 when no device session is established.
type InstanceState struct {
	ID                string  `json:"id"`
	PushConfigured    bool    `json:"push_configured"`
	ActiveAlarms      int     `json:"active_alarms"`
	SessionAgeSeconds float64 `json:"session_age_seconds"`
	Poll              any     `json:"poll"`
}

// --- Helpers ---

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*bridge.Controller, bool) {
	id := chi.URLParam(r, "id")
	ctrl, ok := h.manager.Get(id)
	if !ok {
		http.Error(w, "unknown instance", http.StatusNotFound)
		return nil, false
	}
	return ctrl, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDeviceError maps the vendor error kinds onto HTTP statuses.
func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, raysharp.ErrUnknownChannel):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, raysharp.ErrUnsupported):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, raysharp.ErrAuth):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, raysharp.ErrUnreachable):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, raysharp.ErrBadResponse):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// parseTime accepts RFC3339 and the device's own timestamp format.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// --- Handlers ---

// Webhook receives one EventPush POST from the device. The NVR cannot
// authenticate, so the only validation is the instance id in the path.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	ctrl, ok := h.manager.Get(id)
	if !ok {
		h.col.WebhookRequests.WithLabelValues(id, "unknown_instance").Inc()
		http.Error(w, "unknown instance", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.col.WebhookRequests.WithLabelValues(id, "read_error").Inc()
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if err := ctrl.IngestPayload(ingest.SourceWebhook, body); err != nil {
		h.col.WebhookRequests.WithLabelValues(id, "malformed").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	h.col.WebhookRequests.WithLabelValues(id, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	states := make([]InstanceState, 0)
	for _, ctrl := range h.manager.List() {
		states = append(states, instanceState(ctrl))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": states, "total": len(states)})
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, instanceState(ctrl))
}

func instanceState(ctrl *bridge.Controller) InstanceState {
	age := -1.0
	if d := ctrl.Device().Client().SessionAge(); d >= 0 {
		age = d.Seconds()
	}
	return InstanceState{
		ID:                ctrl.InstanceID(),
		PushConfigured:    ctrl.PushConfigured(),
		ActiveAlarms:      ctrl.Alarms().ActiveCount(),
		SessionAgeSeconds: age,
		Poll:              ctrl.PollState(),
	}
}

func (h *Handler) GetAlarms(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": ctrl.Alarms().Snapshot()})
}

func (h *Handler) GetDetections(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	filter := data.DetectionFilter{}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filter.Kind = event.AlarmType(kind)
	}
	if ch := r.URL.Query().Get("channel"); ch != "" {
		n, err := strconv.Atoi(ch)
		if err != nil {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}
		filter.Channel = n
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := parseTime(since)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		filter.Since = t
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	rows, err := ctrl.Store().Query(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows, "total": len(rows)})
}

func (h *Handler) ClearDetections(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	kind := event.AlarmType(r.URL.Query().Get("kind"))
	if kind == "all" {
		kind = ""
	}
	n, err := ctrl.Store().Clear(r.Context(), kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *Handler) PTZ(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req PTZRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd, err := raysharp.ParsePTZCommand(req.Command)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := ctrl.Device().PTZ(r.Context(), req.Channel, cmd, req.State, req.Speed, req.PresetNum); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req SnapshotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := ctrl.CaptureSnapshot(r.Context(), req.Channel)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) AlarmOutput(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req AlarmOutputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := ctrl.Device().ManualAlarm(r.Context(), req.OutputID, req.Active); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (h *Handler) SearchRecords(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req RecordSearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, to, ok := h.searchWindow(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	res, err := ctrl.SearchRecords(r.Context(), req.Channels, from, to)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SearchPlates(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req AISearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, to, ok := h.searchWindow(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	res, err := ctrl.SearchPlates(r.Context(), req.Channels, from, to,
		req.PlateNumbers, req.IncludeImages, req.MaxResults)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SearchFaces(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req AISearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, to, ok := h.searchWindow(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	res, err := ctrl.SearchFaces(r.Context(), req.Channels, from, to,
		req.MatchedOnly, req.IncludeImages, req.MaxResults)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) PlateDB(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req PlateDBRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := ctrl.LookupPlateDB(r.Context(), req.PlateNumbers)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StreamURL resolves the live stream address for one channel.
func (h *Handler) StreamURL(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req StreamURLRequest
	if !decodeBody(w, r, &req) {
		return
	}
	url, err := ctrl.Device().StreamURL(r.Context(), req.Channel, req.MainStream)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// GetAlarmConfig reads one device alarm configuration block. The body is
// passed through verbatim; the shape is firmware-dependent.
func (h *Handler) GetAlarmConfig(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	kind := raysharp.AlarmKind(chi.URLParam(r, "kind"))
	raw, err := ctrl.Device().AlarmConfig(r.Context(), kind)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": json.RawMessage(raw)})
}

// SetAlarmConfig writes one alarm configuration block through verbatim.
func (h *Handler) SetAlarmConfig(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	kind := raysharp.AlarmKind(chi.URLParam(r, "kind"))
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := ctrl.Device().SetAlarmConfig(r.Context(), kind, json.RawMessage(body)); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

// SetDisarming writes the disarm switch config through verbatim. The
// shape is firmware-dependent, so the body is not interpreted here.
func (h *Handler) SetDisarming(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := ctrl.Device().SetDisarming(r.Context(), json.RawMessage(body)); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (h *Handler) ConfigureEventPush(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.ForceEventPush(r.Context()); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (h *Handler) Reboot(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	log.Printf("[WARN] api: reboot requested for instance %s", ctrl.InstanceID())
	if err := ctrl.Device().Reboot(r.Context()); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "rebooting"})
}

func (h *Handler) searchWindow(w http.ResponseWriter, start, end string) (time.Time, time.Time, bool) {
	from, err := parseTime(start)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	to, err := parseTime(end)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	if !to.After(from) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
