// Package tracksync reconciles the local upload state into the external
// tracking spreadsheet. The sheet is a downstream view; the local store
// stays the source of truth and reconciliation is safe to re-run.
package tracksync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aiwaverider/mediasync_server/internal/artifact"
)

// SyncError wraps a per-row reconciliation failure with its row key.
type SyncError struct {
	Key string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed for row %s: %v", e.Key, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// RowError is one failed row in a sync report.
type RowError struct {
	ArtifactID string `json:"artifactId"`
	Error      string `json:"error"`
}

// SyncReport summarizes one reconciliation pass. A failed row never aborts
// the pass; skipped rows were rejected by the circuit breaker.
type SyncReport struct {
	StartedAt    int64      `json:"startedAt"`
	FinishedAt   int64      `json:"finishedAt"`
	Total        int        `json:"total"`
	Updated      int        `json:"updated"`
	Appended     int        `json:"appended"`
	Failed       int        `json:"failed"`
	Skipped      int        `json:"skipped"`
	CircuitState string     `json:"circuitState"`
	Errors       []RowError `json:"errors,omitempty"`
}

type SyncerConfig struct {
	// PrimaryBackend and SecondaryBackend are the backend names whose upload
	// records fill the two status column pairs.
	PrimaryBackend   string
	SecondaryBackend string
	// BatchSize rows are written between pauses to stay under write quotas.
	BatchSize  int
	BatchPause time.Duration
}

type Syncer struct {
	cfg     SyncerConfig
	repo    artifact.Repository
	sink    RowSink
	breaker *CircuitBreaker
}

func NewSyncer(cfg SyncerConfig, repo artifact.Repository, sink RowSink, breaker *CircuitBreaker) *Syncer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Syncer{cfg: cfg, repo: repo, sink: sink, breaker: breaker}
}

// Reconcile pushes every artifact's upload state to the sheet, updating the
// row whose key column matches the artifact id and appending when none does.
// Running it twice in a row without state changes leaves the sheet
// unchanged in content.
func (s *Syncer) Reconcile(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{StartedAt: time.Now().Unix()}

	artifacts, err := s.repo.ListArtifacts()
	if err != nil {
		return nil, err
	}
	report.Total = len(artifacts)

	if err := s.breaker.Allow(); err != nil {
		return nil, err
	}
	keys, err := s.sink.LoadKeys(ctx)
	if err != nil {
		s.breaker.RecordFailure(err)
		return nil, err
	}
	s.breaker.RecordSuccess()

	maxRow := 1
	for _, rowNum := range keys {
		if rowNum > maxRow {
			maxRow = rowNum
		}
	}

	written := 0
	for _, a := range artifacts {
		if written > 0 && written%s.cfg.BatchSize == 0 && s.cfg.BatchPause > 0 {
			select {
			case <-time.After(s.cfg.BatchPause):
			case <-ctx.Done():
			}
		}
		// A cancellation during the pause must not write the current row.
		if ctx.Err() != nil {
			report.Skipped += report.Total - report.Updated - report.Appended - report.Failed - report.Skipped
			break
		}

		records, err := s.repo.ListRecords(a.ID)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, RowError{ArtifactID: a.ID, Error: err.Error()})
			continue
		}
		byBackend := make(map[string]*artifact.UploadRecord, len(records))
		for _, rec := range records {
			byBackend[rec.Backend] = rec
		}
		row := s.rowValues(a, byBackend)

		if err := s.breaker.Allow(); err != nil {
			report.Skipped++
			continue
		}

		if rowNum, ok := keys[a.ID]; ok {
			err = s.sink.Update(ctx, rowNum, row)
			if err == nil {
				report.Updated++
			}
		} else {
			var appendedRow int
			appendedRow, err = s.sink.Append(ctx, row)
			if err == nil {
				report.Appended++
				if appendedRow == 0 {
					appendedRow = maxRow + 1
				}
				if appendedRow > maxRow {
					maxRow = appendedRow
				}
				keys[a.ID] = appendedRow
			}
		}

		if err != nil {
			s.breaker.RecordFailure(err)
			report.Failed++
			report.Errors = append(report.Errors, RowError{ArtifactID: a.ID,
				Error: (&SyncError{Key: a.ID, Err: err}).Error()})
			continue
		}
		s.breaker.RecordSuccess()
		written++
	}

	report.FinishedAt = time.Now().Unix()
	report.CircuitState = s.breaker.State().String()
	log.Info().
		Int("total", report.Total).
		Int("updated", report.Updated).
		Int("appended", report.Appended).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Str("circuit", report.CircuitState).
		Msg("Sheet reconciliation finished")
	return report, nil
}

func (s *Syncer) rowValues(a *artifact.Artifact, recs map[string]*artifact.UploadRecord) []interface{} {
	primary := recs[s.cfg.PrimaryBackend]
	secondary := recs[s.cfg.SecondaryBackend]

	attempts := 0
	var lastErrors []string
	for _, rec := range recs {
		attempts += rec.AttemptCount
		if rec.LastError != "" {
			lastErrors = append(lastErrors, rec.Backend+": "+rec.LastError)
		}
	}

	return []interface{}{
		a.ID, a.ParentID, string(a.Kind), a.Filename, a.Title, a.Platform,
		a.SourceURL, a.SizeBytes, recordStatus(primary), recordURL(primary),
		recordStatus(secondary), recordURL(secondary), attempts,
		strings.Join(lastErrors, "; "),
		a.Fingerprint,
		time.Now().UTC().Format(time.RFC3339),
	}
}

func recordStatus(rec *artifact.UploadRecord) string {
	if rec == nil {
		return string(artifact.StatusNotStarted)
	}
	return string(rec.Status)
}

func recordURL(rec *artifact.UploadRecord) string {
	if rec == nil {
		return ""
	}
	return rec.RemoteURL
}
