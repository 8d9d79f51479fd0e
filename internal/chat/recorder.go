package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/archive-agent/backend/internal/metrics"
	"github.com/archive-agent/backend/internal/storage/models"
	"github.com/archive-agent/backend/pkg/logger"
	"github.com/archive-agent/backend/pkg/utils"
)

const maxErrorLength = 500

// Store is the put-only persistence the recorder writes to.
type Store interface {
	PutConversation(ctx context.Context, turn *models.ChatTurn) error
	PutAnalytics(ctx context.Context, record *models.AnalyticsRecord) error
}

// Recorder persists each turn and its analytics record. Both writes are
// attempted even when one fails, and neither outcome reaches the caller's
// response.
type Recorder struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, timeout: 10 * time.Second, now: time.Now}
}

// Record runs both writes concurrently and waits for them. The returned
// error joins whichever writes failed; callers only log it.
func (r *Recorder) Record(ctx context.Context, turn *models.ChatTurn, record *models.AnalyticsRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	var convErr, analyticsErr error
	var g errgroup.Group

	g.Go(func() error {
		if err := safePut(func() error { return r.store.PutConversation(ctx, turn) }); err != nil {
			convErr = fmt.Errorf("store conversation: %w", err)
			metrics.StageFailures.WithLabelValues("persist_conversation").Inc()
			logger.Error("Failed to store conversation",
				zap.Error(err),
				zap.String("conversation_id", turn.ConversationID),
			)
		}
		return nil
	})

	g.Go(func() error {
		if err := safePut(func() error { return r.store.PutAnalytics(ctx, record) }); err != nil {
			analyticsErr = fmt.Errorf("store analytics: %w", err)
			metrics.StageFailures.WithLabelValues("persist_analytics").Inc()
			logger.Error("Failed to store analytics",
				zap.Error(err),
				zap.String("query_id", record.QueryID),
			)
		}
		return nil
	})

	_ = g.Wait()
	return errors.Join(convErr, analyticsErr)
}

// RecordFailure writes the minimal analytics row for a request that failed
// outside the guarded stages.
func (r *Recorder) RecordFailure(ctx context.Context, queryID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	msg := "unknown error"
	if cause != nil {
		msg = utils.Truncate(cause.Error(), maxErrorLength)
	}

	err := safePut(func() error {
		return r.store.PutAnalytics(ctx, &models.AnalyticsRecord{
			QueryID:   queryID,
			Timestamp: r.now().UTC(),
			UserID:    "unknown",
			Error:     msg,
			Success:   false,
		})
	})
	if err != nil {
		logger.Error("Failed to store failure analytics", zap.Error(err), zap.String("query_id", queryID))
		return fmt.Errorf("store failure analytics: %w", err)
	}
	return nil
}

// safePut runs one store write, converting a panic into an error. The writes
// run on errgroup goroutines, outside any recover on the request path.
func safePut(put func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("store panic: %v", rec)
		}
	}()
	return put()
}
