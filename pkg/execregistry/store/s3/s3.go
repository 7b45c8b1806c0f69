// Package s3 writes one JSON document per execution to an S3 bucket, under
// "executions/{execution_id}.json", matching the engine's default persisted
// wire format exactly. Suited to write-once audit archival.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/workflowcore/orchestrator/pkg/state"
)

// Sink writes terminal records as individual S3 objects.
type Sink struct {
	client *s3.Client
	bucket string
}

// New constructs a Sink writing into bucket via client.
func New(client *s3.Client, bucket string) *Sink {
	return &Sink{client: client, bucket: bucket}
}

// Persist writes record to executions/{execution_id}.json.
func (s *Sink) Persist(ctx context.Context, record state.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("executions/%s.json", record.ExecutionID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(payload),
		ContentType: awsString("application/json"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("s3 put object %s/%s: %s: %w", s.bucket, key, apiErr.ErrorCode(), err)
		}
		return err
	}
	return nil
}

func awsString(v string) *string { return &v }
