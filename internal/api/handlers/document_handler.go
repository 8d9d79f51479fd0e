package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/ingestion"
	"github.com/archive-agent/backend/pkg/logger"
)

type DocumentManager interface {
	Submit(ctx context.Context, filename string, r io.Reader) (*ingestion.Job, error)
	Process(ctx context.Context, jobID string) (*ingestion.Job, error)
	CheckStatus(ctx context.Context, jobID string) (*ingestion.Job, error)
	ListJobs(ctx context.Context) ([]*ingestion.Job, error)
}

type DocumentHandler struct {
	manager        DocumentManager
	processTimeout time.Duration
}

func NewDocumentHandler(manager DocumentManager, processTimeout time.Duration) *DocumentHandler {
	if processTimeout <= 0 {
		processTimeout = 30 * time.Minute
	}
	return &DocumentHandler{
		manager:        manager,
		processTimeout: processTimeout,
	}
}

// UploadDocument accepts a multipart "file" and starts its processing. The
// response carries the job to poll.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File is required",
		})
	}

	if !ingestion.IsSupported(fh.Filename) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":          "File type not supported for processing",
			"supportedTypes": ingestion.SupportedExtensions(),
		})
	}

	f, err := fh.Open()
	if err != nil {
		logger.Error("Failed to open upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid file upload",
		})
	}
	defer f.Close()

	job, err := h.manager.Submit(c.UserContext(), fh.Filename, f)
	if err != nil {
		logger.Error("Failed to start document processing", zap.Error(err), zap.String("file", fh.Filename))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start document processing",
		})
	}

	go h.process(job.JobID)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":      "Document processing workflow started successfully",
		"document":     fh.Filename,
		"processingId": job.ProcessingID,
		"jobId":        job.JobID,
		"status":       job.Status,
	})
}

func (h *DocumentHandler) process(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.processTimeout)
	defer cancel()

	job, err := h.manager.Process(ctx, jobID)
	if err != nil {
		logger.Error("Document processing failed", zap.Error(err), zap.String("job_id", jobID))
		return
	}
	logger.Info("Document processing finished",
		zap.String("job_id", jobID),
		zap.String("status", string(job.Status)),
		zap.Int("chunks", job.Chunks),
	)
}

func (h *DocumentHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.manager.CheckStatus(c.UserContext(), c.Params("jobId"))
	if errors.Is(err, ingestion.ErrJobNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get job", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get job",
		})
	}
	return c.JSON(job)
}

func (h *DocumentHandler) ListJobs(c *fiber.Ctx) error {
	jobs, err := h.manager.ListJobs(c.UserContext())
	if err != nil {
		logger.Error("Failed to list jobs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list jobs",
		})
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}
