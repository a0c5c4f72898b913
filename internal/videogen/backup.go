package videogen

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/storage"
)

// BackupWriter persists a provider operation handle independently of the job
// store, before the job itself is created. It is a write-ahead safety net: a
// crash between obtaining the handle and creating the job still leaves enough
// to reconstruct the orphaned operation. Never read by the happy path.
type BackupWriter struct {
	store  storage.BlobStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewBackupWriter creates a backup writer on top of the blob store.
func NewBackupWriter(store storage.BlobStore, logger zerolog.Logger, now func() time.Time) *BackupWriter {
	if now == nil {
		now = time.Now
	}
	return &BackupWriter{store: store, logger: logger, now: now}
}

// Write records the operation handle at a well-known path keyed by job id.
// It must never raise past its caller: any failure is logged, with the
// operation id emitted to the log stream as the last-resort recovery channel.
func (w *BackupWriter) Write(ctx context.Context, rec domain.BackupRecord) {
	rec.Timestamp = w.now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		w.logger.Error().Err(err).
			Str("operation_id", rec.OperationID).
			Str("job_id", rec.JobID).
			Msg("videogen: failed to encode operation backup; operation id preserved in this log line")
		return
	}
	if _, err := w.store.Put(ctx, backupKey(rec.JobID), data, "application/json"); err != nil {
		w.logger.Error().Err(err).
			Str("operation_id", rec.OperationID).
			Str("job_id", rec.JobID).
			Msg("videogen: failed to write operation backup; operation id preserved in this log line")
	}
}

func backupKey(jobID string) string {
	return "operation-backups/" + jobID + ".json"
}
