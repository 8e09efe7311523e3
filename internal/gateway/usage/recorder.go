// Package usage records completed calls to the two durable stores and serves
// grouped analytics retrieval. The relational usage fact and the document
// conversation record are independent writes with no two-phase commit:
// billing-relevant data is never lost, content-for-analytics may be.
package usage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/gateerr"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

// FactStore is the relational-store contract for usage facts.
type FactStore interface {
	InsertUsageFact(ctx context.Context, fact *models.UsageFact) error
	SelectUsageFacts(ctx context.Context, q models.UsageQuery) ([]models.UsageFact, error)
	AggregateUsage(ctx context.Context, q models.UsageQuery) ([]models.UsageGroup, error)
}

// DocumentStore is the content-store contract for conversation records.
type DocumentStore interface {
	Put(ctx context.Context, rec *models.ConversationRecord) error
	Get(ctx context.Context, userID string, createdAt time.Time, requestID string) (*models.ConversationRecord, error)
}

// Recorder dual-writes usage facts and conversation content.
type Recorder struct {
	facts FactStore
	docs  DocumentStore
}

// NewRecorder creates a usage recorder over the two stores.
func NewRecorder(facts FactStore, docs DocumentStore) *Recorder {
	return &Recorder{facts: facts, docs: docs}
}

// Record writes the usage fact and then the conversation record. A failed
// fact write is returned to the caller; a failed content write is logged and
// swallowed so a valid answer is never lost to bookkeeping.
func (r *Recorder) Record(ctx context.Context, fact *models.UsageFact, rec *models.ConversationRecord) error {
	if err := r.facts.InsertUsageFact(ctx, fact); err != nil {
		return err
	}

	if rec == nil || r.docs == nil {
		return nil
	}
	if err := r.docs.Put(ctx, rec); err != nil {
		logrus.WithFields(logrus.Fields{
			"request_id": fact.RequestID,
			"user_id":    fact.UserID,
			"error":      err,
		}).Error("conversation record write failed")
	}
	return nil
}

// Row is one ungrouped analytics result, optionally with its content.
type Row struct {
	models.UsageFact
	Content *models.ConversationRecord `json:"content,omitempty"`
}

// Report is the result of an analytics query: either grouped aggregates or
// chronological rows, never both.
type Report struct {
	Groups []models.UsageGroup
	Rows   []Row
}

// Query retrieves usage analytics. Grouped queries aggregate by the group_by
// column; ungrouped queries return chronological rows. A session-scoped
// ungrouped query that matches nothing is a not-found condition, not an
// empty list. Caller scoping (non-admin users locked to their own id) is the
// orchestrator's responsibility and must already be applied to q.
func (r *Recorder) Query(ctx context.Context, q models.UsageQuery, includeContent bool) (*Report, error) {
	if q.GroupBy != "" {
		groups, err := r.facts.AggregateUsage(ctx, q)
		if err != nil {
			return nil, err
		}
		return &Report{Groups: groups}, nil
	}

	facts, err := r.facts.SelectUsageFacts(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.SessionID != "" && len(facts) == 0 {
		return nil, gateerr.NotFound("session not found: " + q.SessionID)
	}

	rows := make([]Row, 0, len(facts))
	for _, fact := range facts {
		row := Row{UsageFact: fact}
		if includeContent && r.docs != nil {
			rec, err := r.docs.Get(ctx, fact.UserID, fact.CreatedAt, fact.RequestID)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"request_id": fact.RequestID,
					"error":      err,
				}).Warn("conversation record read failed")
			} else {
				row.Content = rec
			}
		}
		rows = append(rows, row)
	}

	return &Report{Rows: rows}, nil
}
