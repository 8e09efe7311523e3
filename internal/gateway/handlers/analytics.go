package handlers

import (
	"net/http"
	"time"

	"github.com/mrmushfiq/llm0-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/gateerr"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

const dateLayout = "2006-01-02"

// AnalyticsHandler serves the read-side usage endpoints. Non-admin callers
// are always scoped to their own usage regardless of query parameters.
type AnalyticsHandler struct {
	recorder *usage.Recorder
}

func NewAnalyticsHandler(recorder *usage.Recorder) *AnalyticsHandler {
	return &AnalyticsHandler{recorder: recorder}
}

// analyticsResponse echoes the effective filters alongside the results.
type analyticsResponse struct {
	UserID    string      `json:"user_id,omitempty"`
	StartDate string      `json:"start_date"`
	EndDate   string      `json:"end_date"`
	GroupBy   string      `json:"group_by,omitempty"`
	Provider  string      `json:"provider,omitempty"`
	Model     string      `json:"model,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Endpoint  string      `json:"endpoint,omitempty"`
	Results   interface{} `json:"results"`
}

// HandleUsage handles GET /v1/analytics/usage
func (h *AnalyticsHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

// HandleSessions handles GET /v1/analytics/sessions. Without a session_id
// parameter it groups usage by session; with one it returns that session's
// calls in chronological order.
func (h *AnalyticsHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("session_id") != "" {
		h.serve(w, r, "")
		return
	}
	h.serve(w, r, "session")
}

// HandleModels handles GET /v1/analytics/models
func (h *AnalyticsHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "model")
}

func (h *AnalyticsHandler) serve(w http.ResponseWriter, r *http.Request, defaultGroupBy string) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, gateerr.Unauthorized("not authenticated"))
		return
	}

	q, includeContent, err := parseUsageQuery(r, defaultGroupBy)
	if err != nil {
		writeError(w, err)
		return
	}

	// Non-admin callers see only their own usage.
	if !user.IsAdmin() {
		q.UserID = user.ID
	}

	report, err := h.recorder.Query(r.Context(), q, includeContent)
	if err != nil {
		writeError(w, err)
		return
	}

	var results interface{}
	if q.GroupBy != "" {
		results = report.Groups
	} else {
		results = report.Rows
	}

	writeJSON(w, http.StatusOK, analyticsResponse{
		UserID:    q.UserID,
		StartDate: q.Start.Format(dateLayout),
		EndDate:   q.End.Format(dateLayout),
		GroupBy:   q.GroupBy,
		Provider:  q.Provider,
		Model:     q.Model,
		SessionID: q.SessionID,
		Endpoint:  q.Endpoint,
		Results:   results,
	})
}

func parseUsageQuery(r *http.Request, defaultGroupBy string) (models.UsageQuery, bool, error) {
	params := r.URL.Query()

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	if raw := params.Get("start_date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return models.UsageQuery{}, false, gateerr.InvalidRequest("invalid start_date, expected YYYY-MM-DD")
		}
		start = parsed
	}
	if raw := params.Get("end_date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return models.UsageQuery{}, false, gateerr.InvalidRequest("invalid end_date, expected YYYY-MM-DD")
		}
		// Inclusive end date.
		end = parsed.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if end.Before(start) {
		return models.UsageQuery{}, false, gateerr.InvalidRequest("end_date precedes start_date")
	}

	groupBy := params.Get("group_by")
	if groupBy == "" {
		groupBy = defaultGroupBy
	}
	if groupBy != "" && !database.GroupByValid(groupBy) {
		return models.UsageQuery{}, false, gateerr.InvalidRequest("unsupported group_by: " + groupBy)
	}

	q := models.UsageQuery{
		UserID:    params.Get("user_id"),
		Start:     start,
		End:       end,
		GroupBy:   groupBy,
		Provider:  params.Get("provider"),
		Model:     params.Get("model"),
		SessionID: params.Get("session_id"),
		Endpoint:  params.Get("endpoint"),
	}

	includeContent := params.Get("include_content") == "true"
	if includeContent && groupBy != "" {
		return models.UsageQuery{}, false, gateerr.InvalidRequest("include_content requires an ungrouped query")
	}

	return q, includeContent, nil
}
