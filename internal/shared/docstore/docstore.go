// Package docstore persists full conversation content as JSON objects in
// MinIO, keyed <user>/<date>/<request_id>.json. Content lives apart from the
// relational usage facts and the two stores are never written transactionally.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

type Store struct {
	client *minio.Client
	bucket string
}

// New creates a MinIO-backed document store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("MinIO bucket check failed: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

func objectName(userID string, createdAt time.Time, requestID string) string {
	return fmt.Sprintf("%s/%s/%s.json", userID, createdAt.UTC().Format("2006-01-02"), requestID)
}

// Put stores one conversation record. Records are append-only; a rewrite of
// the same request id replaces identical content.
func (s *Store) Put(ctx context.Context, rec *models.ConversationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal conversation record: %w", err)
	}

	name := objectName(rec.UserID, rec.CreatedAt, rec.RequestID)
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put conversation record: %w", err)
	}
	return nil
}

// Get fetches the conversation record for one request.
func (s *Store) Get(ctx context.Context, userID string, createdAt time.Time, requestID string) (*models.ConversationRecord, error) {
	name := objectName(userID, createdAt, requestID)
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get conversation record: %w", err)
	}
	defer obj.Close()

	var rec models.ConversationRecord
	if err := json.NewDecoder(obj).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode conversation record: %w", err)
	}
	return &rec, nil
}
