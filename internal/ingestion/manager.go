package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/archive-agent/backend/internal/metrics"
	"github.com/archive-agent/backend/pkg/logger"
)

var ErrJobNotReady = errors.New("extraction job has not succeeded")

const pagesFile = "pages.json"

type Ingester interface {
	Ingest(ctx context.Context, sourceURI string, ex *Extraction) (*IngestResult, error)
}

type ManagerConfig struct {
	InputDir      string
	OutputDir     string
	PollInterval  time.Duration
	MaxPolls      int
	MaxConcurrent int
	JobTTL        time.Duration
}

// Manager drives each uploaded file through extraction, polling and
// ingestion. Extraction runs in the background; callers poll the job.
type Manager struct {
	cfg      ManagerConfig
	store    JobStore
	ingester Ingester
	sem      *semaphore.Weighted
	extract  func(path string) (*Extraction, error)
	now      func() time.Time

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewManager(cfg ManagerConfig, store JobStore, ingester Ingester) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		ingester: ingester,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		extract:  Extract,
		now:      time.Now,
	}
}

// Submit stores an uploaded file under the input directory and starts its
// extraction.
func (m *Manager) Submit(ctx context.Context, filename string, r io.Reader) (*Job, error) {
	name := filepath.Base(filename)
	if !IsSupported(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, fileExtension(name))
	}

	processingID := NewProcessingID(m.now())
	dir := filepath.Join(m.cfg.InputDir, "input", processingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create input directory: %w", err)
	}

	objectKey := filepath.Join(dir, name)
	f, err := os.Create(objectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create input file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write input file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write input file: %w", err)
	}

	logger.Info("Document received", zap.String("object_key", objectKey), zap.String("processing_id", processingID))

	return m.StartExtraction(ctx, processingID, objectKey)
}

// StartExtraction records a new IN_PROGRESS job and extracts the file in
// the background.
func (m *Manager) StartExtraction(ctx context.Context, processingID, objectKey string) (*Job, error) {
	if !IsSupported(objectKey) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, fileExtension(objectKey))
	}

	now := m.now().UTC()
	job := &Job{
		JobID:          uuid.NewString(),
		ProcessingID:   processingID,
		ObjectKey:      objectKey,
		FileExtension:  fileExtension(objectKey),
		OperationType:  operationFor(objectKey),
		Status:         StatusInProgress,
		OutputLocation: filepath.Join(m.cfg.OutputDir, processingID) + string(filepath.Separator),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.save(ctx, job); err != nil {
		return nil, err
	}

	logger.Info("Extraction job started",
		zap.String("job_id", job.JobID),
		zap.String("operation", string(job.OperationType)),
	)

	m.wg.Add(1)
	go m.runExtraction(context.WithoutCancel(ctx), *job)

	return job, nil
}

func (m *Manager) runExtraction(ctx context.Context, job Job) {
	defer m.wg.Done()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(ctx, job.JobID, StatusFailed, err.Error())
		return
	}
	defer m.sem.Release(1)

	metrics.ExtractionJobsInFlight.Inc()
	defer metrics.ExtractionJobsInFlight.Dec()

	ex, err := m.extract(job.ObjectKey)
	if err == nil {
		err = writePages(job.OutputLocation, ex)
	}
	if err != nil {
		logger.Error("Extraction failed", zap.Error(err), zap.String("job_id", job.JobID))
		m.finish(ctx, job.JobID, StatusFailed, err.Error())
		return
	}

	m.finish(ctx, job.JobID, StatusSucceeded, fmt.Sprintf("Extracted %d pages", len(ex.Pages)))
}

// finish moves a job to a terminal status unless something else already did.
func (m *Manager) finish(ctx context.Context, jobID string, status JobStatus, message string) {
	_, err := m.update(ctx, jobID, func(j *Job) bool {
		if j.Status.Terminal() {
			return false
		}
		j.Status = status
		j.StatusMessage = message
		return true
	})
	if err != nil {
		logger.Error("Failed to update job", zap.Error(err), zap.String("job_id", jobID))
	}
}

func (m *Manager) update(ctx context.Context, jobID string, apply func(*Job) bool) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.CheckStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !apply(job) {
		return job, nil
	}
	job.UpdatedAt = m.now().UTC()
	if err := m.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (m *Manager) save(ctx context.Context, job *Job) error {
	if err := m.store.SetJob(ctx, job.JobID, job, m.cfg.JobTTL); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (m *Manager) CheckStatus(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	ok, err := m.store.GetJob(ctx, jobID, &job)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

// Wait polls the job until it reaches a terminal status. After MaxPolls
// unsuccessful polls the job is marked FAILED.
func (m *Manager) Wait(ctx context.Context, jobID string) (*Job, error) {
	for poll := 1; ; poll++ {
		job, err := m.CheckStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if poll >= m.cfg.MaxPolls {
			break
		}

		timer := time.NewTimer(m.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	logger.Warn("Extraction polling timed out", zap.String("job_id", jobID), zap.Int("polls", m.cfg.MaxPolls))
	return m.update(ctx, jobID, func(j *Job) bool {
		if j.Status.Terminal() {
			return false
		}
		j.Status = StatusFailed
		j.StatusMessage = "polling timed out"
		return true
	})
}

// Ingest loads the extracted pages of a succeeded job into the corpus.
func (m *Manager) Ingest(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.CheckStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusSucceeded {
		return job, ErrJobNotReady
	}
	if job.Ingested {
		return job, nil
	}

	ex, err := readPages(job.OutputLocation)
	if err == nil {
		var result *IngestResult
		result, err = m.ingester.Ingest(ctx, job.ObjectKey, ex)
		if err == nil {
			return m.update(ctx, jobID, func(j *Job) bool {
				j.Ingested = true
				j.Chunks = result.Chunks
				j.DocumentID = result.DocumentID
				return true
			})
		}
	}

	ingestErr := err
	updated, err := m.update(ctx, jobID, func(j *Job) bool {
		j.Status = StatusFailed
		j.StatusMessage = "ingestion failed: " + ingestErr.Error()
		return true
	})
	if err != nil {
		return nil, errors.Join(ingestErr, err)
	}
	return updated, ingestErr
}

// Process waits for extraction to finish and ingests the result.
func (m *Manager) Process(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.Wait(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == StatusFailed {
		return job, nil
	}
	return m.Ingest(ctx, jobID)
}

// ListJobs returns every known job, newest first.
func (m *Manager) ListJobs(ctx context.Context) ([]*Job, error) {
	ids, err := m.store.ListJobIDs(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := m.CheckStatus(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

// Shutdown waits for running extractions.
func (m *Manager) Shutdown() {
	m.wg.Wait()
}

func writePages(dir string, ex *Extraction) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("failed to marshal pages: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, pagesFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write pages: %w", err)
	}
	return nil
}

func readPages(dir string) (*Extraction, error) {
	data, err := os.ReadFile(filepath.Join(dir, pagesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read pages: %w", err)
	}
	var ex Extraction
	if err := json.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("failed to decode pages: %w", err)
	}
	return &ex, nil
}
