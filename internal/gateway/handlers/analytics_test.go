package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

func getAnalytics(t *testing.T, handler http.HandlerFunc, user *models.User, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if user != nil {
		req = req.WithContext(context.WithValue(req.Context(), userContextKey, user))
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func newAnalytics() (*AnalyticsHandler, *fakeFactStore) {
	facts := &fakeFactStore{}
	return NewAnalyticsHandler(usage.NewRecorder(facts, nil)), facts
}

func TestUsageNonAdminScopedToSelf(t *testing.T) {
	h, facts := newAnalytics()

	rec := getAnalytics(t, h.HandleUsage, testUser(models.TierFree), "/v1/analytics/usage?user_id=someone-else")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", facts.lastQuery.UserID)
}

func TestUsageAdminMayQueryAnyUser(t *testing.T) {
	h, facts := newAnalytics()

	rec := getAnalytics(t, h.HandleUsage, testUser(models.TierAdmin), "/v1/analytics/usage?user_id=someone-else")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "someone-else", facts.lastQuery.UserID)
}

func TestUsageDefaultsToLast30Days(t *testing.T) {
	h, facts := newAnalytics()

	rec := getAnalytics(t, h.HandleUsage, testUser(models.TierFree), "/v1/analytics/usage")
	require.Equal(t, http.StatusOK, rec.Code)

	span := facts.lastQuery.End.Sub(facts.lastQuery.Start)
	assert.InDelta(t, 30*24*time.Hour, span, float64(time.Minute))
}

func TestUsageExplicitDateRange(t *testing.T) {
	h, facts := newAnalytics()

	rec := getAnalytics(t, h.HandleUsage, testUser(models.TierFree),
		"/v1/analytics/usage?start_date=2025-05-01&end_date=2025-05-31&group_by=date")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), facts.lastQuery.Start)
	// End date is inclusive.
	assert.True(t, facts.lastQuery.End.After(time.Date(2025, 5, 31, 23, 59, 59, 0, time.UTC)))
	assert.Equal(t, "date", facts.lastQuery.GroupBy)
}

func TestUsageInvalidDate(t *testing.T) {
	h, _ := newAnalytics()

	rec := getAnalytics(t, h.HandleUsage, testUser(models.TierFree), "/v1/analytics/usage?start_date=05-01-2025")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "start_date")
}

func TestUsageInvertedDateRange(t *testing.T) {
	h, _ := newAnalytics()

	rec := getAnalytics(t, h.HandleUsage, testUser(models.TierFree),
		"/v1/analytics/usage?start_date=2025-05-31&end_date=2025-05-01")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageUnsupportedGroupBy(t *testing.T) {
	h, _ := newAnalytics()

	rec := getAnalytics(t, h.HandleUsage, testUser(models.TierFree), "/v1/analytics/usage?group_by=user_id")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "group_by")
}

func TestSessionsDefaultGrouping(t *testing.T) {
	h, facts := newAnalytics()

	rec := getAnalytics(t, h.HandleSessions, testUser(models.TierFree), "/v1/analytics/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "session", facts.lastQuery.GroupBy)
}

func TestSessionsWithSessionIDReturnsRows(t *testing.T) {
	facts := &fakeFactStore{selected: []models.UsageFact{{
		RequestID: "req-1",
		UserID:    "user-1",
		SessionID: "sess_abc",
		CreatedAt: time.Now().UTC(),
	}}}
	h := NewAnalyticsHandler(usage.NewRecorder(facts, nil))

	rec := getAnalytics(t, h.HandleSessions, testUser(models.TierFree), "/v1/analytics/sessions?session_id=sess_abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, facts.lastQuery.GroupBy)
	assert.Equal(t, "sess_abc", facts.lastQuery.SessionID)
	assert.Contains(t, rec.Body.String(), `"results"`)
	assert.Contains(t, rec.Body.String(), "req-1")
}

func TestSessionsUnknownSessionIs404(t *testing.T) {
	h, _ := newAnalytics()

	rec := getAnalytics(t, h.HandleSessions, testUser(models.TierFree), "/v1/analytics/sessions?session_id=sess_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "sess_missing")
}

func TestModelsDefaultGrouping(t *testing.T) {
	h, facts := newAnalytics()

	rec := getAnalytics(t, h.HandleModels, testUser(models.TierFree), "/v1/analytics/models")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "model", facts.lastQuery.GroupBy)
}

func TestIncludeContentRejectsGroupedQuery(t *testing.T) {
	h, _ := newAnalytics()

	rec := getAnalytics(t, h.HandleUsage, testUser(models.TierFree),
		"/v1/analytics/usage?group_by=model&include_content=true")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsUnauthenticated(t *testing.T) {
	h, _ := newAnalytics()

	rec := getAnalytics(t, h.HandleUsage, nil, "/v1/analytics/usage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
