package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/HilloriDesai/FileUpload/internal/queue"
	"github.com/HilloriDesai/FileUpload/internal/service"
)

// Processor is plugged into the asynq worker loop. It handles the janitor
// tasks: orphaned-blob cleanup and the periodic bin sweep.
type Processor struct {
	svc       *service.Service
	blobs     service.BlobStore
	retention time.Duration
	logger    *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(svc *service.Service, blobs service.BlobStore, retention time.Duration, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{svc: svc, blobs: blobs, retention: retention, logger: logger}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.BlobCleanupTask, p.handleBlobCleanup)
	mux.HandleFunc(queue.BinSweepTask, p.handleBinSweep)
	return mux
}

func (p *Processor) handleBlobCleanup(ctx context.Context, task *asynq.Task) error {
	var payload queue.BlobCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.blobs.Remove(ctx, payload.ObjectKey); err != nil {
		p.logger.Warn("blob cleanup failed, will retry",
			zap.String("objectKey", payload.ObjectKey), zap.Error(err))
		return err
	}
	p.logger.Info("orphaned blob removed", zap.String("objectKey", payload.ObjectKey))
	return nil
}

func (p *Processor) handleBinSweep(ctx context.Context, _ *asynq.Task) error {
	purged, err := p.svc.SweepExpired(ctx, p.retention)
	if err != nil {
		return fmt.Errorf("bin sweep: %w", err)
	}
	p.logger.Info("bin sweep run complete", zap.Int("purged", purged))
	return nil
}
