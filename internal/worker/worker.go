package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
	"github.com/NahidDesigner/ai-prd-creator/internal/generator"
	"github.com/NahidDesigner/ai-prd-creator/internal/metrics"
	"github.com/NahidDesigner/ai-prd-creator/internal/queue"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
	"github.com/NahidDesigner/ai-prd-creator/internal/telegram"
)

type Queue interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, count int64) ([]queue.Message, error)
	Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, messageID string) error
	Enqueue(ctx context.Context, job queue.GenerateJob) (string, error)
}

type Generator interface {
	Generate(ctx context.Context, req generator.GenerateRequest, sink generator.Sink) (generator.Result, error)
	Refine(ctx context.Context, req generator.RefineRequest, sink generator.Sink) (generator.Result, error)
}

type PRDReader interface {
	GetPRD(ctx context.Context, id string) (storage.PRD, error)
}

type Worker struct {
	queue         Queue
	gen           Generator
	prds          PRDReader
	messenger     Messenger
	maxJobRetries int
	editInterval  time.Duration
	reclaimIdle   time.Duration
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

type Config struct {
	Queue         Queue
	Generator     Generator
	PRDs          PRDReader
	Messenger     Messenger
	MaxJobRetries int
	EditInterval  time.Duration
	// ReclaimIdle is how long a delivered job may stay unacknowledged
	// before another consumer takes it over. It must exceed the
	// generation timeout.
	ReclaimIdle time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	if cfg.EditInterval <= 0 {
		cfg.EditInterval = editInterval
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Worker{
		queue:         cfg.Queue,
		gen:           cfg.Generator,
		prds:          cfg.PRDs,
		messenger:     cfg.Messenger,
		maxJobRetries: cfg.MaxJobRetries,
		editInterval:  cfg.EditInterval,
		reclaimIdle:   cfg.ReclaimIdle,
		logger:        cfg.Logger.With().Str("component", "worker").Logger(),
		metrics:       m,
		now:           cfg.Now,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}
		for _, msg := range messages {
			w.Handle(ctx, msg)
		}
	}
}

func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.reclaimIdle / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		messages, err := w.queue.Reclaim(ctx, w.reclaimIdle, 10)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("failed to reclaim stale jobs")
			}
			continue
		}
		for _, msg := range messages {
			w.logger.Info().Str("job_id", msg.Job.JobID).Msg("reclaimed stale job")
			w.Handle(ctx, msg)
		}
	}
}

// Handle runs one job and acknowledges it. Retryable provider failures are
// enqueued again as a new entry until the retry budget is spent.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	job := msg.Job
	log := w.logger.With().Str("job_id", job.JobID).Str("kind", job.Kind).Int("attempt", job.Attempts).Logger()

	err := w.process(ctx, job)
	switch {
	case err == nil:
		w.metrics.ProcessedJobs.Inc()
	case ctx.Err() != nil:
		// Shutting down: leave the entry pending so it is redelivered.
		return
	default:
		w.metrics.FailedJobs.Inc()
		log.Warn().Err(err).Str("error_kind", string(apperr.KindOf(err))).Msg("job failed")
		if w.retry(ctx, job, err, log) {
			break
		}
		if _, sendErr := w.messenger.Send(ctx, job.ChatID, job.MessageID, apperr.UserMessage(err)); sendErr != nil {
			log.Error().Err(sendErr).Msg("failed to report job failure")
		}
	}

	if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
		log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
	}
}

func (w *Worker) retry(ctx context.Context, job queue.GenerateJob, err error, log zerolog.Logger) bool {
	if !apperr.IsRetryable(err) || job.Attempts >= w.maxJobRetries {
		return false
	}
	job.Attempts++
	if _, enqueueErr := w.queue.Enqueue(ctx, job); enqueueErr != nil {
		log.Error().Err(enqueueErr).Msg("failed to re-enqueue job")
		return false
	}
	_, _ = w.messenger.Send(ctx, job.ChatID, job.MessageID, "The AI provider is busy. Retrying shortly...")
	return true
}

func (w *Worker) process(ctx context.Context, job queue.GenerateJob) error {
	statusID, err := w.messenger.Send(ctx, job.ChatID, job.MessageID, "Queued. Contacting the AI provider...")
	if err != nil {
		return fmt.Errorf("send status message: %w", err)
	}
	sink := &messageSink{
		ctx:       ctx,
		messenger: w.messenger,
		logger:    w.logger,
		chatID:    job.ChatID,
		messageID: statusID,
		interval:  w.editInterval,
		now:       w.now,
	}

	var res generator.Result
	switch job.Kind {
	case queue.JobGenerate:
		res, err = w.gen.Generate(ctx, generator.GenerateRequest{
			OwnerID:        job.OwnerID,
			Requirements:   job.Requirements,
			Platform:       job.Platform,
			ProjectContext: job.ProjectContext,
		}, sink)
	case queue.JobRefine:
		base, lerr := w.prds.GetPRD(ctx, job.BasePRDID)
		if lerr != nil {
			if errors.Is(lerr, storage.ErrNotFound) {
				return apperr.NotFound("The PRD to refine no longer exists.")
			}
			return fmt.Errorf("load base prd: %w", lerr)
		}
		res, err = w.gen.Refine(ctx, generator.RefineRequest{
			OwnerID:                job.OwnerID,
			ExistingPRD:            base.Content,
			AdditionalRequirements: job.Requirements,
			Platform:               job.Platform,
			ProjectContext:         job.ProjectContext,
		}, sink)
	default:
		return apperr.Validation(fmt.Sprintf("unknown job kind %q", job.Kind))
	}
	if err != nil {
		return err
	}
	return w.deliver(ctx, job, statusID, res)
}

func (w *Worker) deliver(ctx context.Context, job queue.GenerateJob, statusID int64, res generator.Result) error {
	if err := w.messenger.Edit(ctx, job.ChatID, statusID, tailPreview(res.Content, previewRunes)); err != nil {
		w.logger.Debug().Err(err).Msg("final preview edit failed")
	}

	name, caption := "prd.md", "Your PRD"
	if res.PRD != nil {
		name = telegram.DocumentName(*res.PRD)
		caption = fmt.Sprintf("%s\nid: %s", res.PRD.Title, res.PRD.ID)
	}
	if err := w.messenger.SendDocument(ctx, job.ChatID, job.MessageID, name, caption, []byte(res.Content)); err != nil {
		return fmt.Errorf("send prd document: %w", err)
	}
	return nil
}
