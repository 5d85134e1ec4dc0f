package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MZRMRB/trakr/pipeline"
)

// QueryAPI is the read-only HTTP surface over the persisted pipeline output,
// plus the alarm handling endpoint. Authentication and routing live in the
// gateway in front of it; org_id arrives as a query parameter here.
type QueryAPI struct {
	store *Store
}

func NewQueryAPI(s *Store) *QueryAPI {
	return &QueryAPI{store: s}
}

// Register mounts the query endpoints on the mux.
func (a *QueryAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/alarms", a.listAlarms)
	mux.HandleFunc("/api/alarms/handle", a.handleAlarms)
	mux.HandleFunc("/api/routes", a.listRoutes)
	mux.HandleFunc("/api/routes/stats", a.routeStats)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func parseTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func parseInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// GET /api/alarms?org_id=&kind=&from=&to=&page=&page_size=
func (a *QueryAPI) listAlarms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeAPIError(w, http.StatusBadRequest, "org_id required")
		return
	}
	from, err := parseTime(r, "from")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "from: invalid RFC3339 time")
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "to: invalid RFC3339 time")
		return
	}

	records, total, err := a.store.ListAlarms(r.Context(), orgID, AlarmFilter{
		Kind:     pipeline.AlarmKind(r.URL.Query().Get("kind")),
		From:     from,
		To:       to,
		Page:     parseInt(r, "page"),
		PageSize: parseInt(r, "page_size"),
	})
	if err != nil {
		slog.Error("list alarms failed", "org_id", orgID, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "alarms": records})
}

// POST /api/alarms/handle
func (a *QueryAPI) handleAlarms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		OrgID     string   `json:"org_id"`
		AlarmIDs  []string `json:"alarm_ids"`
		HandledBy string   `json:"handled_by"`
		Reason    string   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.OrgID == "" || req.HandledBy == "" {
		writeAPIError(w, http.StatusBadRequest, "org_id and handled_by required")
		return
	}

	err := a.store.HandleAlarms(r.Context(), req.OrgID, req.AlarmIDs, req.HandledBy, req.Reason)
	switch {
	case errors.Is(err, ErrAlarmNotFound):
		writeAPIError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrCrossOrgHandle), errors.Is(err, ErrAlarmAlreadyHandled):
		writeAPIError(w, http.StatusConflict, err.Error())
	case err != nil:
		slog.Error("handle alarms failed", "org_id", req.OrgID, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "update failed")
	default:
		writeJSON(w, http.StatusOK, map[string]int{"handled": len(req.AlarmIDs)})
	}
}

// GET /api/routes?org_id=&tag_id=&from=&to=
func (a *QueryAPI) listRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	orgID := r.URL.Query().Get("org_id")
	tagID := r.URL.Query().Get("tag_id")
	if orgID == "" || tagID == "" {
		writeAPIError(w, http.StatusBadRequest, "org_id and tag_id required")
		return
	}
	from, err := parseTime(r, "from")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "from: invalid RFC3339 time")
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "to: invalid RFC3339 time")
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	segments, err := a.store.ListRouteSegments(r.Context(), orgID, tagID, from, to)
	if err != nil {
		slog.Error("list routes failed", "org_id", orgID, "tag_id", tagID, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": segments})
}

// GET /api/routes/stats?org_id=&from=&to=
func (a *QueryAPI) routeStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeAPIError(w, http.StatusBadRequest, "org_id required")
		return
	}
	from, err := parseTime(r, "from")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "from: invalid RFC3339 time")
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "to: invalid RFC3339 time")
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	stats, err := a.store.RouteStatistics(r.Context(), orgID, from, to)
	if err != nil {
		slog.Error("route stats failed", "org_id", orgID, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
