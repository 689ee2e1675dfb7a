package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"cascadewatch/internal/domain"
)

// ExecutionArchiver implements domain.Archiver by serializing completed
// executions to JSON and uploading them to S3, partitioned by UTC day:
//
//	archive/executions/2026-08-31/{execution-id}.json
//
// The blob archive is a secondary sink next to the Postgres store; a failed
// upload is reported to the caller but never blocks the execution engine.
type ExecutionArchiver struct {
	writer *Writer
}

// NewExecutionArchiver creates an ExecutionArchiver using the given writer.
func NewExecutionArchiver(writer *Writer) *ExecutionArchiver {
	return &ExecutionArchiver{writer: writer}
}

// ArchiveExecution uploads one execution record.
func (a *ExecutionArchiver) ArchiveExecution(ctx context.Context, exec domain.CascadeExecution) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(exec); err != nil {
		return fmt.Errorf("s3blob: encode execution %s: %w", exec.ID, err)
	}

	path := executionPath(exec)
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive execution %s: %w", exec.ID, err)
	}
	return nil
}

// executionPath builds the S3 key for one archived execution, partitioned by
// the UTC day the execution started.
func executionPath(exec domain.CascadeExecution) string {
	day := exec.StartedAt.UTC().Format("2006-01-02")
	return fmt.Sprintf("archive/executions/%s/%s.json", day, exec.ID)
}

// Compile-time interface check.
var _ domain.Archiver = (*ExecutionArchiver)(nil)
