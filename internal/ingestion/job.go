package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/archive-agent/backend/pkg/utils"
)

var ErrJobNotFound = errors.New("extraction job not found")

type JobStatus string

const (
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusSucceeded  JobStatus = "SUCCEEDED"
	StatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// OperationType mirrors how a file is read: full page analysis for PDFs,
// plain text detection for everything else.
type OperationType string

const (
	OperationAnalysis      OperationType = "ANALYSIS"
	OperationTextDetection OperationType = "TEXT_DETECTION"
)

func operationFor(name string) OperationType {
	if fileExtension(name) == ".pdf" {
		return OperationAnalysis
	}
	return OperationTextDetection
}

type Job struct {
	JobID          string        `json:"jobId"`
	ProcessingID   string        `json:"processingId"`
	ObjectKey      string        `json:"objectKey"`
	FileExtension  string        `json:"fileExtension"`
	OperationType  OperationType `json:"operationType"`
	Status         JobStatus     `json:"status"`
	StatusMessage  string        `json:"statusMessage,omitempty"`
	OutputLocation string        `json:"outputLocation"`
	DocumentID     string        `json:"documentId,omitempty"`
	Ingested       bool          `json:"ingested"`
	Chunks         int           `json:"chunks"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// NewProcessingID returns doc-<unix ms>-<random base36>.
func NewProcessingID(now time.Time) string {
	return strings.ReplaceAll(utils.PrefixedID("doc", now), "_", "-")
}

// JobStore keeps extraction jobs. The redis cache client satisfies it.
type JobStore interface {
	SetJob(ctx context.Context, jobID string, job any, ttl time.Duration) error
	GetJob(ctx context.Context, jobID string, dst any) (bool, error)
	ListJobIDs(ctx context.Context) ([]string, error)
}

// MemoryJobStore is a process-local JobStore for single-node runs without
// redis. Entries do not expire.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string][]byte
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string][]byte)}
}

func (s *MemoryJobStore) SetJob(_ context.Context, jobID string, job any, _ time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	s.mu.Lock()
	s.jobs[jobID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, jobID string, dst any) (bool, error) {
	s.mu.RLock()
	data, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return true, nil
}

func (s *MemoryJobStore) ListJobIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
