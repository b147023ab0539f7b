// Package coordinator drives upload batches. It owns every upload record
// transition; backends move bytes and the resolver gives verdicts, but only
// the coordinator writes state.
package coordinator

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aiwaverider/mediasync_server/internal/artifact"
	"github.com/aiwaverider/mediasync_server/internal/backend"
	"github.com/aiwaverider/mediasync_server/internal/resolver"
	"github.com/aiwaverider/mediasync_server/internal/retry"
)

// ErrBatchRunning is returned when a run is requested while another batch is
// still in flight.
var ErrBatchRunning = errors.New("an upload batch is already running")

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Slot binds a backend to its worker-pool size.
type Slot struct {
	Backend     backend.Backend
	Concurrency int
}

// BatchRequest narrows a batch run. Empty fields mean no filter: every
// pending pair on every backend.
type BatchRequest struct {
	ArtifactIDs []string `json:"artifactIds,omitempty"`
	Backend     string   `json:"backend,omitempty"`
}

// PairResult is the outcome of one (artifact, backend) pair in a batch.
type PairResult struct {
	ArtifactID string          `json:"artifactId"`
	Backend    string          `json:"backend"`
	Status     artifact.Status `json:"status"`
	RemoteID   string          `json:"remoteId,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// BatchOutcome summarizes a full batch run. A failed pair never aborts the
// batch; it lands here as one failed result among the rest. A backend whose
// pending listing failed lands in BackendErrors and the other backends run
// regardless.
type BatchOutcome struct {
	StartedAt     int64             `json:"startedAt"`
	FinishedAt    int64             `json:"finishedAt"`
	Succeeded     int               `json:"succeeded"`
	Skipped       int               `json:"skipped"`
	Failed        int               `json:"failed"`
	Results       []PairResult      `json:"results"`
	BackendErrors map[string]string `json:"backendErrors,omitempty"`
}

type Coordinator struct {
	cfg      Config
	store    *artifact.Service
	repo     artifact.Repository
	resolver *resolver.Resolver
	slots    []Slot

	locks keyedLocks
	runMu sync.Mutex
}

func NewCoordinator(cfg Config, store *artifact.Service, repo artifact.Repository, res *resolver.Resolver, slots []Slot) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		repo:     repo,
		resolver: res,
		slots:    slots,
	}
}

// RunBatch processes every pending (artifact, backend) pair once, narrowed
// by the request filters. Pairs for the same backend run through that
// backend's worker pool; backends run in parallel with each other. Only one
// batch runs at a time.
func (c *Coordinator) RunBatch(ctx context.Context, req *BatchRequest) (*BatchOutcome, error) {
	if !c.runMu.TryLock() {
		return nil, ErrBatchRunning
	}
	defer c.runMu.Unlock()

	if req == nil {
		req = &BatchRequest{}
	}
	var wanted map[string]bool
	if len(req.ArtifactIDs) > 0 {
		wanted = make(map[string]bool, len(req.ArtifactIDs))
		for _, id := range req.ArtifactIDs {
			wanted[id] = true
		}
	}

	outcome := &BatchOutcome{StartedAt: time.Now().Unix()}
	var (
		mu     sync.Mutex
		slotWg sync.WaitGroup
	)

	for _, slot := range c.slots {
		if req.Backend != "" && slot.Backend.Name() != req.Backend {
			continue
		}
		slotWg.Add(1)
		go func(slot Slot) {
			defer slotWg.Done()
			c.runSlot(ctx, slot, wanted, outcome, &mu)
		}(slot)
	}

	slotWg.Wait()
	outcome.FinishedAt = time.Now().Unix()
	log.Info().
		Int("succeeded", outcome.Succeeded).
		Int("skipped", outcome.Skipped).
		Int("failed", outcome.Failed).
		Msg("Upload batch finished")
	return outcome, nil
}

// runSlot feeds one backend's pending pairs through its worker pool. Each
// slot runs in its own goroutine so a saturated pool never stalls another
// backend's scheduling, and every worker it started is waited for before it
// returns. A listing failure is recorded on the outcome; the other backends
// are unaffected.
func (c *Coordinator) runSlot(ctx context.Context, slot Slot, wanted map[string]bool, outcome *BatchOutcome, mu *sync.Mutex) {
	pending, err := c.repo.ListPending(slot.Backend.Name(), c.cfg.MaxAttempts)
	if err != nil {
		log.Error().
			Err(err).
			Str("backend", slot.Backend.Name()).
			Msg("Failed to list pending pairs")
		mu.Lock()
		if outcome.BackendErrors == nil {
			outcome.BackendErrors = make(map[string]string)
		}
		outcome.BackendErrors[slot.Backend.Name()] = err.Error()
		mu.Unlock()
		return
	}
	log.Info().
		Str("backend", slot.Backend.Name()).
		Int("pending", len(pending)).
		Msg("Starting upload batch for backend")

	sem := make(chan struct{}, slot.Concurrency)
	var wg sync.WaitGroup
	for _, a := range pending {
		if wanted != nil && !wanted[a.ID] {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(a *artifact.Artifact) {
			defer wg.Done()
			defer func() { <-sem }()

			result := c.processPair(ctx, slot.Backend, a)
			mu.Lock()
			outcome.Results = append(outcome.Results, result)
			switch result.Status {
			case artifact.StatusSucceeded:
				outcome.Succeeded++
			case artifact.StatusSkippedDuplicate:
				outcome.Skipped++
			default:
				outcome.Failed++
			}
			mu.Unlock()
		}(a)
	}
	wg.Wait()
}

// processPair runs the attempt loop for one pair under its pair lock, so no
// two workers ever transfer the same pair concurrently.
func (c *Coordinator) processPair(ctx context.Context, b backend.Backend, a *artifact.Artifact) PairResult {
	lock := c.locks.get(a.ID + "|" + b.Name())
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.repo.GetUploadRecord(a.ID, b.Name())
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return PairResult{ArtifactID: a.ID, Backend: b.Name(), Status: artifact.StatusFailed, Error: err.Error()}
	}
	if rec == nil {
		rec = &artifact.UploadRecord{ArtifactID: a.ID, Backend: b.Name(), Status: artifact.StatusNotStarted}
	}

	// Re-check under the lock; the pending listing may be stale.
	if rec.Status == artifact.StatusSucceeded || rec.Status == artifact.StatusSkippedDuplicate {
		return PairResult{ArtifactID: a.ID, Backend: b.Name(), Status: rec.Status, RemoteID: rec.RemoteID}
	}

	backoff := retry.Config{
		InitialBackoff: c.cfg.InitialBackoff,
		MaxBackoff:     c.cfg.MaxBackoff,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}

	for rec.AttemptCount < c.cfg.MaxAttempts {
		if ctx.Err() != nil {
			break
		}
		attempt := rec.AttemptCount
		if attempt > 0 {
			if err := sleepCtx(ctx, retry.Backoff(backoff, attempt-1)); err != nil {
				break
			}
		}

		rec.Status = artifact.StatusInProgress
		rec.AttemptCount++
		rec.LastAttemptAt = time.Now().Unix()
		if err := c.persistRecord(ctx, rec); err != nil {
			return PairResult{ArtifactID: a.ID, Backend: b.Name(), Status: artifact.StatusFailed, Error: err.Error()}
		}

		err := c.attempt(ctx, b, a, rec)
		if err == nil {
			if err := c.persistRecord(ctx, rec); err != nil {
				return PairResult{ArtifactID: a.ID, Backend: b.Name(), Status: artifact.StatusFailed, Error: err.Error()}
			}
			log.Info().
				Str("artifactId", a.ID).
				Str("backend", b.Name()).
				Str("status", string(rec.Status)).
				Str("remoteId", rec.RemoteID).
				Msg("Pair finished")
			return PairResult{ArtifactID: a.ID, Backend: b.Name(), Status: rec.Status, RemoteID: rec.RemoteID}
		}

		rec.Status = artifact.StatusFailed
		rec.LastError = err.Error()
		rec.Retryable = classify(err)
		if persistErr := c.persistRecord(ctx, rec); persistErr != nil {
			return PairResult{ArtifactID: a.ID, Backend: b.Name(), Status: artifact.StatusFailed, Error: persistErr.Error()}
		}
		log.Warn().
			Err(err).
			Str("artifactId", a.ID).
			Str("backend", b.Name()).
			Int("attempt", rec.AttemptCount).
			Bool("retryable", rec.Retryable).
			Msg("Upload attempt failed")

		if !rec.Retryable {
			break
		}
	}

	return PairResult{ArtifactID: a.ID, Backend: b.Name(), Status: rec.Status, Error: rec.LastError}
}

// attempt resolves duplicates and, when none is found, runs the transfer.
// On success rec holds the terminal state but is not yet persisted.
func (c *Coordinator) attempt(ctx context.Context, b backend.Backend, a *artifact.Artifact, rec *artifact.UploadRecord) error {
	res, err := c.resolver.Resolve(ctx, b, a)
	if err != nil {
		return err
	}
	if res.Duplicate {
		rec.Status = artifact.StatusSkippedDuplicate
		rec.RemoteID = res.Remote.ID
		rec.RemoteURL = res.Remote.URL
		rec.SessionToken = ""
		rec.UploadedChunks = 0
		rec.LastError = ""
		return nil
	}

	fingerprint, err := c.store.Fingerprint(a)
	if err != nil {
		return err
	}

	outcome, err := b.Upload(ctx, &backend.UploadRequest{
		LocalPath:   a.LocalPath,
		Filename:    a.Filename,
		Kind:        string(a.Kind),
		SizeBytes:   a.SizeBytes,
		Fingerprint: fingerprint,
		Resume: backend.Progress{
			SessionToken:   rec.SessionToken,
			UploadedChunks: rec.UploadedChunks,
		},
		OnProgress: func(p backend.Progress) error {
			rec.SessionToken = p.SessionToken
			rec.UploadedChunks = p.UploadedChunks
			return c.persistRecord(ctx, rec)
		},
	})
	if err != nil {
		return err
	}

	rec.Status = artifact.StatusSucceeded
	rec.RemoteID = outcome.RemoteID
	rec.RemoteURL = outcome.RemoteURL
	rec.SessionToken = ""
	rec.UploadedChunks = 0
	rec.LastError = ""
	return nil
}

// persistRecord writes the record, retrying transient store failures (a busy
// sqlite handle) a bounded number of times.
func (c *Coordinator) persistRecord(ctx context.Context, rec *artifact.UploadRecord) error {
	return retry.Do(ctx, retry.DefaultConfig(), func(err error) bool {
		var pe *artifact.PersistenceError
		return errors.As(err, &pe)
	}, func(context.Context) error {
		return c.repo.SetUploadRecord(rec)
	})
}

// classify maps an attempt error to retryability. A missing local file can
// never heal on retry; everything else defers to the transfer classification.
func classify(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	return backend.IsRetryable(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// keyedLocks hands out one mutex per pair key.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	if _, ok := k.locks[key]; !ok {
		k.locks[key] = &sync.Mutex{}
	}
	return k.locks[key]
}
