package tracksync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aiwaverider/mediasync_server/internal/artifact"
)

// fakeSink is an in-memory RowSink. failKeys makes writes for specific
// artifact ids fail.
type fakeSink struct {
	mu       sync.Mutex
	rows     map[int][]interface{}
	keys     map[string]int
	nextRow  int
	failKeys map[string]error
	updates  int
	appends  int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		rows:     make(map[int][]interface{}),
		keys:     make(map[string]int),
		nextRow:  1, // row 1 is the header
		failKeys: make(map[string]error),
	}
}

func (f *fakeSink) LoadKeys(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make(map[string]int, len(f.keys))
	for k, v := range f.keys {
		keys[k] = v
	}
	return keys, nil
}

func (f *fakeSink) rowKey(row []interface{}) string {
	key, _ := row[0].(string)
	return key
}

func (f *fakeSink) Update(ctx context.Context, rowNum int, row []interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failKeys[f.rowKey(row)]; err != nil {
		return err
	}
	f.rows[rowNum] = row
	f.updates++
	return nil
}

func (f *fakeSink) Append(ctx context.Context, row []interface{}) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failKeys[f.rowKey(row)]; err != nil {
		return 0, err
	}
	f.nextRow++
	f.rows[f.nextRow] = row
	f.keys[f.rowKey(row)] = f.nextRow
	f.appends++
	return f.nextRow, nil
}

func syncFixture(t *testing.T) (*artifact.MemoryRepository, *fakeSink, *CircuitBreaker, *Syncer) {
	t.Helper()
	repo := artifact.NewMemoryRepository()
	sink := newFakeSink()
	breaker := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	syncer := NewSyncer(SyncerConfig{
		PrimaryBackend:   "primary-drive",
		SecondaryBackend: "secondary-drive",
		BatchSize:        100,
	}, repo, sink, breaker)
	return repo, sink, breaker, syncer
}

func addArtifact(t *testing.T, repo *artifact.MemoryRepository, parentID string) *artifact.Artifact {
	t.Helper()
	a, err := repo.UpsertArtifact(&artifact.Artifact{
		ParentID: parentID,
		Kind:     artifact.KindVideo,
		Filename: parentID + ".mp4",
		Title:    "Clip " + parentID,
	})
	if err != nil {
		t.Fatalf("Failed to insert artifact: %v", err)
	}
	return a
}

func TestReconcile_ShouldAppendNewRows(t *testing.T) {
	// given
	repo, sink, _, syncer := syncFixture(t)
	addArtifact(t, repo, "v1")
	addArtifact(t, repo, "v2")

	// when
	report, err := syncer.Reconcile(context.Background())

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Appended != 2 || report.Updated != 0 || report.Failed != 0 {
		t.Errorf("Expected 2 appends, got report %+v", report)
	}
	if len(sink.rows) != 2 {
		t.Errorf("Expected 2 sheet rows, got %d", len(sink.rows))
	}
}

func TestReconcile_ShouldUpdateExistingRowsOnRerun(t *testing.T) {
	// given
	repo, sink, _, syncer := syncFixture(t)
	a := addArtifact(t, repo, "v1")

	if _, err := syncer.Reconcile(context.Background()); err != nil {
		t.Fatalf("First reconcile failed: %v", err)
	}
	repo.SetUploadRecord(&artifact.UploadRecord{
		ArtifactID: a.ID, Backend: "primary-drive",
		Status: artifact.StatusSucceeded, RemoteURL: "https://drive.example/v1",
	})

	// when
	report, err := syncer.Reconcile(context.Background())

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Updated != 1 || report.Appended != 0 {
		t.Errorf("Expected 1 update and no appends, got report %+v", report)
	}
	if len(sink.rows) != 1 {
		t.Errorf("Expected a single sheet row, got %d", len(sink.rows))
	}

	rowNum := sink.keys[a.ID]
	row := sink.rows[rowNum]
	if row[8] != string(artifact.StatusSucceeded) {
		t.Errorf("Expected primary status column 'succeeded', got '%v'", row[8])
	}
	if row[9] != "https://drive.example/v1" {
		t.Errorf("Expected primary URL column to carry the remote URL, got '%v'", row[9])
	}
}

func TestReconcile_ShouldContinuePastFailedRows(t *testing.T) {
	// given
	repo, sink, _, syncer := syncFixture(t)
	bad := addArtifact(t, repo, "v1")
	addArtifact(t, repo, "v2")
	sink.failKeys[bad.ID] = errors.New("write rejected")

	// when
	report, err := syncer.Reconcile(context.Background())

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Failed != 1 || report.Appended != 1 {
		t.Errorf("Expected 1 failure and 1 append, got report %+v", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].ArtifactID != bad.ID {
		t.Errorf("Expected the failed row in the error list, got %+v", report.Errors)
	}
}

func TestReconcile_ShouldFailFastWhenCircuitIsOpen(t *testing.T) {
	// given
	repo, _, breaker, syncer := syncFixture(t)
	addArtifact(t, repo, "v1")
	for i := 0; i < 5; i++ {
		breaker.RecordFailure(errors.New("write failed"))
	}

	// when
	_, err := syncer.Reconcile(context.Background())

	// then
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got: %v", err)
	}
}

func TestReconcile_ShouldSkipRowsAfterCircuitOpensMidRun(t *testing.T) {
	// given
	repo := artifact.NewMemoryRepository()
	sink := newFakeSink()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})
	syncer := NewSyncer(SyncerConfig{
		PrimaryBackend:   "primary-drive",
		SecondaryBackend: "secondary-drive",
		BatchSize:        100,
	}, repo, sink, breaker)

	for i := 0; i < 4; i++ {
		a := addArtifact(t, repo, "v"+string(rune('1'+i)))
		sink.failKeys[a.ID] = errors.New("write failed")
	}

	// when
	report, err := syncer.Reconcile(context.Background())

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("Expected a single failure before the circuit opened, got %d", report.Failed)
	}
	if report.Skipped != 3 {
		t.Errorf("Expected 3 skipped rows after the circuit opened, got %d", report.Skipped)
	}
	if report.CircuitState != "open" {
		t.Errorf("Expected an open circuit in the report, got '%s'", report.CircuitState)
	}
}

// pauseCancelSink cancels the run shortly after its first write lands, while
// the syncer sits in the quota pause that follows it.
type pauseCancelSink struct {
	*fakeSink
	cancel context.CancelFunc
}

func (s *pauseCancelSink) Append(ctx context.Context, row []interface{}) (int, error) {
	n, err := s.fakeSink.Append(ctx, row)
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.cancel()
	}()
	return n, err
}

func TestReconcile_ShouldNotWriteRowsAfterCancellationDuringPause(t *testing.T) {
	// given
	repo := artifact.NewMemoryRepository()
	breaker := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &pauseCancelSink{fakeSink: newFakeSink(), cancel: cancel}
	syncer := NewSyncer(SyncerConfig{
		PrimaryBackend:   "primary-drive",
		SecondaryBackend: "secondary-drive",
		BatchSize:        1,
		BatchPause:       time.Minute,
	}, repo, sink, breaker)
	for i := 0; i < 3; i++ {
		addArtifact(t, repo, "v"+string(rune('1'+i)))
	}

	// when
	report, err := syncer.Reconcile(ctx)

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Appended != 1 {
		t.Errorf("Expected only the pre-pause row to be written, got %d appends", report.Appended)
	}
	if len(sink.rows) != 1 {
		t.Errorf("Expected a single sheet row, got %d", len(sink.rows))
	}
	if report.Skipped != 2 {
		t.Errorf("Expected the remaining rows to be skipped, got %d", report.Skipped)
	}
}

func TestReconcile_ShouldBeIdempotentWithoutStateChanges(t *testing.T) {
	// given
	repo, sink, _, syncer := syncFixture(t)
	addArtifact(t, repo, "v1")

	// when
	if _, err := syncer.Reconcile(context.Background()); err != nil {
		t.Fatalf("First reconcile failed: %v", err)
	}
	report, err := syncer.Reconcile(context.Background())

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Appended != 0 {
		t.Errorf("Expected no new rows on rerun, got %d appends", report.Appended)
	}
	if len(sink.rows) != 1 {
		t.Errorf("Expected a single sheet row after two runs, got %d", len(sink.rows))
	}
}
