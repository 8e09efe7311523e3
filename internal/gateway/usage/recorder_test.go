package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/gateerr"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

type fakeFactStore struct {
	insertErr error
	facts     []*models.UsageFact
	selected  []models.UsageFact
	groups    []models.UsageGroup
	lastQuery models.UsageQuery
}

func (s *fakeFactStore) InsertUsageFact(ctx context.Context, fact *models.UsageFact) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.facts = append(s.facts, fact)
	return nil
}

func (s *fakeFactStore) SelectUsageFacts(ctx context.Context, q models.UsageQuery) ([]models.UsageFact, error) {
	s.lastQuery = q
	return s.selected, nil
}

func (s *fakeFactStore) AggregateUsage(ctx context.Context, q models.UsageQuery) ([]models.UsageGroup, error) {
	s.lastQuery = q
	return s.groups, nil
}

type fakeDocStore struct {
	putErr  error
	getErr  error
	records map[string]*models.ConversationRecord
}

func (s *fakeDocStore) Put(ctx context.Context, rec *models.ConversationRecord) error {
	if s.putErr != nil {
		return s.putErr
	}
	if s.records == nil {
		s.records = make(map[string]*models.ConversationRecord)
	}
	s.records[rec.RequestID] = rec
	return nil
}

func (s *fakeDocStore) Get(ctx context.Context, userID string, createdAt time.Time, requestID string) (*models.ConversationRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[requestID]
	if !ok {
		return nil, errors.New("not found")
	}
	return rec, nil
}

func sampleFact(requestID string) *models.UsageFact {
	return &models.UsageFact{
		RequestID:   requestID,
		UserID:      "user-1",
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Endpoint:    models.EndpointChat,
		TotalTokens: 42,
		SessionID:   "sess-1",
		Success:     true,
		CreatedAt:   time.Now().UTC(),
	}
}

func sampleRecord(requestID string) *models.ConversationRecord {
	return &models.ConversationRecord{
		RequestID: requestID,
		UserID:    "user-1",
		SessionID: "sess-1",
		Endpoint:  models.EndpointChat,
		Request:   json.RawMessage(`{"messages":[]}`),
	}
}

func TestRecordWritesBothStores(t *testing.T) {
	facts := &fakeFactStore{}
	docs := &fakeDocStore{}
	rec := NewRecorder(facts, docs)

	err := rec.Record(context.Background(), sampleFact("req-1"), sampleRecord("req-1"))
	require.NoError(t, err)
	assert.Len(t, facts.facts, 1)
	assert.Contains(t, docs.records, "req-1")
}

func TestRecordFactFailureIsReturned(t *testing.T) {
	facts := &fakeFactStore{insertErr: errors.New("db down")}
	docs := &fakeDocStore{}
	rec := NewRecorder(facts, docs)

	err := rec.Record(context.Background(), sampleFact("req-1"), sampleRecord("req-1"))
	assert.EqualError(t, err, "db down")
	assert.Empty(t, docs.records)
}

func TestRecordDocFailureIsSwallowed(t *testing.T) {
	facts := &fakeFactStore{}
	docs := &fakeDocStore{putErr: errors.New("bucket gone")}
	rec := NewRecorder(facts, docs)

	err := rec.Record(context.Background(), sampleFact("req-1"), sampleRecord("req-1"))
	assert.NoError(t, err)
	assert.Len(t, facts.facts, 1)
}

func TestRecordWithoutDocStore(t *testing.T) {
	facts := &fakeFactStore{}
	rec := NewRecorder(facts, nil)

	err := rec.Record(context.Background(), sampleFact("req-1"), sampleRecord("req-1"))
	assert.NoError(t, err)
}

func TestQueryGrouped(t *testing.T) {
	facts := &fakeFactStore{groups: []models.UsageGroup{
		{Key: "gpt-4o-mini", Requests: 3, TotalTokens: 120},
	}}
	rec := NewRecorder(facts, nil)

	report, err := rec.Query(context.Background(), models.UsageQuery{GroupBy: "model"}, false)
	require.NoError(t, err)
	assert.Len(t, report.Groups, 1)
	assert.Empty(t, report.Rows)
	assert.Equal(t, "model", facts.lastQuery.GroupBy)
}

func TestQueryUngroupedRows(t *testing.T) {
	facts := &fakeFactStore{selected: []models.UsageFact{
		*sampleFact("req-1"),
		*sampleFact("req-2"),
	}}
	rec := NewRecorder(facts, nil)

	report, err := rec.Query(context.Background(), models.UsageQuery{}, false)
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)
	assert.Equal(t, "req-1", report.Rows[0].RequestID)
	assert.Nil(t, report.Rows[0].Content)
}

func TestQuerySessionNotFound(t *testing.T) {
	facts := &fakeFactStore{}
	rec := NewRecorder(facts, nil)

	_, err := rec.Query(context.Background(), models.UsageQuery{SessionID: "sess-missing"}, false)
	require.Error(t, err)

	ge := gateerr.From(err)
	assert.Equal(t, gateerr.CodeNotFound, ge.Code)
	assert.Contains(t, ge.Message, "sess-missing")
}

func TestQueryEmptyWithoutSessionIsNotAnError(t *testing.T) {
	facts := &fakeFactStore{}
	rec := NewRecorder(facts, nil)

	report, err := rec.Query(context.Background(), models.UsageQuery{}, false)
	require.NoError(t, err)
	assert.Empty(t, report.Rows)
}

func TestQueryIncludeContent(t *testing.T) {
	facts := &fakeFactStore{selected: []models.UsageFact{
		*sampleFact("req-1"),
		*sampleFact("req-2"),
	}}
	docs := &fakeDocStore{records: map[string]*models.ConversationRecord{
		"req-1": sampleRecord("req-1"),
	}}
	rec := NewRecorder(facts, docs)

	report, err := rec.Query(context.Background(), models.UsageQuery{}, true)
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)

	require.NotNil(t, report.Rows[0].Content)
	assert.Equal(t, "req-1", report.Rows[0].Content.RequestID)
	// A missing content document degrades to the fact alone.
	assert.Nil(t, report.Rows[1].Content)
}

func TestQueryContentOrderMatchesFacts(t *testing.T) {
	now := time.Now().UTC()
	var selected []models.UsageFact
	for i := 0; i < 3; i++ {
		fact := *sampleFact(fmt.Sprintf("req-%d", i))
		fact.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		selected = append(selected, fact)
	}
	rec := NewRecorder(&fakeFactStore{selected: selected}, nil)

	report, err := rec.Query(context.Background(), models.UsageQuery{SessionID: "sess-1"}, false)
	require.NoError(t, err)
	require.Len(t, report.Rows, 3)
	for i := 1; i < 3; i++ {
		assert.True(t, report.Rows[i].CreatedAt.After(report.Rows[i-1].CreatedAt))
	}
}
