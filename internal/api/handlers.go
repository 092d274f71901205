// Package api exposes HTTP handlers for the wearable sync service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/wearable/internal/auth"
	"example.com/wearable/internal/domain"
	"example.com/wearable/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sync", h.sync)
	mux.HandleFunc("/v1/summaries/", h.summaryByDate)
	mux.HandleFunc("/v1/activities", h.listActivities)
	mux.HandleFunc("/v1/connection", h.connection)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSyncWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope sync:write required")
		return
	}

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	start, end, err := req.dates()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	result, err := h.service.SyncRange(r.Context(), req.UserID, domain.RecordKind(req.Kind), start, end, req.ForceRefresh)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSyncResultView(result))
}

func (h *Handler) summaryByDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSyncRead) && !claims.HasScope(auth.ScopeSyncWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope sync:read required")
		return
	}

	rawDate := strings.TrimPrefix(r.URL.Path, "/v1/summaries/")
	if rawDate == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing summary date")
		return
	}
	date, err := time.Parse(time.DateOnly, rawDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}
	forceRefresh := r.URL.Query().Get("force_refresh") == "true"

	summary, err := h.service.SummaryForDate(r.Context(), userID, date, forceRefresh)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryView(*summary))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSyncRead) && !claims.HasScope(auth.ScopeSyncWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope sync:read required")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursorToken := r.URL.Query().Get("cursor")
	cursor, err := persistence.DecodeCursor(cursorToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), userID, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}

	resp := ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) connection(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !claims.HasScope(auth.ScopeSyncRead) && !claims.HasScope(auth.ScopeSyncWrite) {
			writeError(w, http.StatusForbidden, "forbidden", "scope sync:read required")
			return
		}
		h.connectionStatus(w, r)
	case http.MethodPut:
		if !claims.HasScope(auth.ScopeSyncWrite) {
			writeError(w, http.StatusForbidden, "forbidden", "scope sync:write required")
			return
		}
		h.connect(w, r)
	case http.MethodPost:
		if !claims.HasScope(auth.ScopeSyncWrite) {
			writeError(w, http.StatusForbidden, "forbidden", "scope sync:write required")
			return
		}
		h.reconnect(w, r)
	case http.MethodDelete:
		if !claims.HasScope(auth.ScopeSyncWrite) {
			writeError(w, http.StatusForbidden, "forbidden", "scope sync:write required")
			return
		}
		h.disconnect(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) connectionStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}

	status, err := h.service.Status(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConnectionStatusView{
		Connected:      status.Connected,
		IsActive:       status.IsActive,
		HasCredentials: status.HasCredentials,
		LastSyncTime:   status.LastSyncTime,
	})
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	creds := domain.Credentials{Username: req.Username, Password: req.Password}
	if err := h.service.Connect(r.Context(), req.UserID, creds); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

func (h *Handler) reconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "user_id is required")
		return
	}

	if err := h.service.Reconnect(r.Context(), req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"active": true})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}

	if err := h.service.Disconnect(r.Context(), userID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"active": false})
}

// SyncRequest is the payload for POST /v1/sync.
type SyncRequest struct {
	UserID       string `json:"user_id"`
	Kind         string `json:"kind"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	ForceRefresh bool   `json:"force_refresh"`
}

// Validate ensures request correctness.
func (r SyncRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	if !domain.RecordKind(r.Kind).Valid() {
		return errors.New("kind must be activity or daily_summary")
	}
	if strings.TrimSpace(r.EndDate) == "" {
		return errors.New("end_date is required")
	}
	return nil
}

func (r SyncRequest) dates() (time.Time, time.Time, error) {
	end, err := time.Parse(time.DateOnly, r.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("end_date must be YYYY-MM-DD")
	}
	start := end
	if r.StartDate != "" {
		start, err = time.Parse(time.DateOnly, r.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("start_date must be YYYY-MM-DD")
		}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, errors.New("start_date must not be after end_date")
	}
	return start, end, nil
}

// ConnectRequest is the payload for PUT /v1/connection.
type ConnectRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate ensures request correctness.
func (r ConnectRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(r.Username) == "" {
		return errors.New("username is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// SyncResultView is the response body for POST /v1/sync.
type SyncResultView struct {
	Kind     string `json:"kind"`
	Imported int    `json:"imported"`
	Updated  int    `json:"updated"`
	Total    int    `json:"total"`
	Skipped  bool   `json:"skipped"`
	Start    string `json:"start_date"`
	End      string `json:"end_date"`
	Message  string `json:"message,omitempty"`
}

// ActivityView exposes a stored activity.
type ActivityView struct {
	UserID          string    `json:"user_id"`
	ExternalID      string    `json:"external_id"`
	Name            string    `json:"name"`
	ActivityType    string    `json:"activity_type"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int       `json:"duration_seconds"`
	DistanceMeters  float64   `json:"distance_meters"`
	Calories        int       `json:"calories"`
	AvgHeartRate    int       `json:"avg_heart_rate"`
	MaxHeartRate    int       `json:"max_heart_rate"`
	Steps           int       `json:"steps"`
	ElevationGain   float64   `json:"elevation_gain"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SummaryView exposes a stored daily summary.
type SummaryView struct {
	UserID                  string    `json:"user_id"`
	Date                    string    `json:"date"`
	TotalSteps              int       `json:"total_steps"`
	TotalDistanceMeters     float64   `json:"total_distance_meters"`
	TotalCalories           int       `json:"total_calories"`
	ActiveCalories          int       `json:"active_calories"`
	BMRCalories             int       `json:"bmr_calories"`
	MinHeartRate            int       `json:"min_heart_rate"`
	MaxHeartRate            int       `json:"max_heart_rate"`
	RestingHeartRate        int       `json:"resting_heart_rate"`
	AvgStressLevel          int       `json:"avg_stress_level"`
	FloorsClimbed           int       `json:"floors_climbed"`
	MinutesSedentary        int       `json:"minutes_sedentary"`
	MinutesLightlyActive    int       `json:"minutes_lightly_active"`
	MinutesModeratelyActive int       `json:"minutes_moderately_active"`
	MinutesHighlyActive     int       `json:"minutes_highly_active"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// ConnectionStatusView exposes connection state.
type ConnectionStatusView struct {
	Connected      bool       `json:"connected"`
	IsActive       bool       `json:"is_active"`
	HasCredentials bool       `json:"has_credentials"`
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toSyncResultView(result domain.SyncResult) SyncResultView {
	view := SyncResultView{
		Kind:     string(result.Kind),
		Imported: result.Imported,
		Updated:  result.Updated,
		Total:    result.Total,
		Skipped:  result.Skipped,
		Message:  result.Message,
	}
	if !result.Start.IsZero() {
		view.Start = result.Start.Format(time.DateOnly)
	}
	if !result.End.IsZero() {
		view.End = result.End.Format(time.DateOnly)
	}
	return view
}

func toActivityView(activity domain.Activity) ActivityView {
	return ActivityView{
		UserID:          activity.UserID,
		ExternalID:      activity.ExternalID,
		Name:            activity.Name,
		ActivityType:    activity.ActivityType,
		StartTime:       activity.StartTime,
		DurationSeconds: activity.DurationSeconds,
		DistanceMeters:  activity.DistanceMeters,
		Calories:        activity.Calories,
		AvgHeartRate:    activity.AvgHeartRate,
		MaxHeartRate:    activity.MaxHeartRate,
		Steps:           activity.Steps,
		ElevationGain:   activity.ElevationGain,
		CreatedAt:       activity.CreatedAt,
		UpdatedAt:       activity.UpdatedAt,
	}
}

func toSummaryView(summary domain.DailySummary) SummaryView {
	return SummaryView{
		UserID:                  summary.UserID,
		Date:                    summary.Date.Format(time.DateOnly),
		TotalSteps:              summary.TotalSteps,
		TotalDistanceMeters:     summary.TotalDistanceMeters,
		TotalCalories:           summary.TotalCalories,
		ActiveCalories:          summary.ActiveCalories,
		BMRCalories:             summary.BMRCalories,
		MinHeartRate:            summary.MinHeartRate,
		MaxHeartRate:            summary.MaxHeartRate,
		RestingHeartRate:        summary.RestingHeartRate,
		AvgStressLevel:          summary.AvgStressLevel,
		FloorsClimbed:           summary.FloorsClimbed,
		MinutesSedentary:        summary.MinutesSedentary,
		MinutesLightlyActive:    summary.MinutesLightlyActive,
		MinutesModeratelyActive: summary.MinutesModeratelyActive,
		MinutesHighlyActive:     summary.MinutesHighlyActive,
		UpdatedAt:               summary.UpdatedAt,
	}
}

// writeDomainError maps sync service errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		writeError(w, http.StatusNotFound, "not_connected", "no provider connection for user")
	case errors.Is(err, domain.ErrInactiveConnection):
		writeError(w, http.StatusConflict, "inactive_connection", "provider connection is disabled")
	case errors.Is(err, domain.ErrMissingCredentials):
		writeError(w, http.StatusConflict, "missing_credentials", "no stored provider credentials")
	case errors.Is(err, domain.ErrAuthenticationFailed):
		writeError(w, http.StatusBadGateway, "upstream_auth_failed", "provider rejected stored credentials")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "provider rate limit reached, retry later")
	case errors.Is(err, domain.ErrRemoteUnavailable):
		writeError(w, http.StatusServiceUnavailable, "remote_unavailable", "provider is unreachable, retry later")
	case errors.Is(err, domain.ErrInvalidResponse):
		writeError(w, http.StatusBadGateway, "invalid_response", "provider returned an unexpected payload")
	case errors.Is(err, domain.ErrSummaryNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no summary for the requested date")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
