// Package generator runs PRD generation and refinement against the resolved
// provider and streams the result into a display sink.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
	"github.com/NahidDesigner/ai-prd-creator/internal/metrics"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
	"github.com/NahidDesigner/ai-prd-creator/internal/sse"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

const (
	OpGenerate = "generate"
	OpRefine   = "refine"

	persistTimeout = 10 * time.Second
)

// Sink is the surface that displays a document while it streams in.
// Reset is called once the provider stream is open. Restore is only called
// for refinements that fail after Reset.
type Sink interface {
	Reset() error
	Append(fragment string) error
	Restore(content string) error
}

type CredentialResolver interface {
	Resolve(ctx context.Context, callerID string) (providers.Credential, error)
}

type AdapterSource interface {
	Build(kind providers.Kind) (providers.Adapter, error)
}

type PRDStore interface {
	InsertPRD(ctx context.Context, p storage.PRD) error
}

type GenerateRequest struct {
	OwnerID        string `json:"-"`
	Requirements   string `json:"requirements"`
	Platform       string `json:"platform"`
	ProjectContext string `json:"projectContext"`
}

type RefineRequest struct {
	OwnerID                string `json:"-"`
	ExistingPRD            string `json:"existingPRD"`
	AdditionalRequirements string `json:"additionalRequirements"`
	Platform               string `json:"platform"`
	ProjectContext         string `json:"projectContext"`
}

type Result struct {
	Content string
	// PRD is nil when nothing was saved.
	PRD      *storage.PRD
	Provider providers.Kind
	Model    string
	Scope    providers.Scope
}

type Config struct {
	Resolver        CredentialResolver
	Adapters        AdapterSource
	Store           PRDStore
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
	Timeout         time.Duration
	MaxOutputTokens int
	MaxContextBytes int
	Now             func() time.Time
}

type Service struct {
	resolver        CredentialResolver
	adapters        AdapterSource
	store           PRDStore
	logger          zerolog.Logger
	metrics         *metrics.Metrics
	timeout         time.Duration
	maxOutputTokens int
	maxContextBytes int
	now             func() time.Time
}

func New(cfg Config) *Service {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		resolver:        cfg.Resolver,
		adapters:        cfg.Adapters,
		store:           cfg.Store,
		logger:          cfg.Logger.With().Str("component", "generator").Logger(),
		metrics:         cfg.Metrics,
		timeout:         cfg.Timeout,
		maxOutputTokens: cfg.MaxOutputTokens,
		maxContextBytes: cfg.MaxContextBytes,
		now:             cfg.Now,
	}
}

type job struct {
	op           string
	ownerID      string
	title        string
	requirements string
	platform     string
	chat         providers.ChatRequest
	// restore is the document shown before a refinement started.
	restore string
}

func (s *Service) Generate(ctx context.Context, req GenerateRequest, sink Sink) (Result, error) {
	if strings.TrimSpace(req.Requirements) == "" {
		return Result{}, s.rejected(OpGenerate, apperr.Validation("Please enter your project requirements"))
	}
	if err := s.checkContext(req.ProjectContext); err != nil {
		return Result{}, s.rejected(OpGenerate, err)
	}
	return s.run(ctx, job{
		op:           OpGenerate,
		ownerID:      req.OwnerID,
		title:        DeriveTitle(req.Requirements),
		requirements: req.Requirements,
		platform:     req.Platform,
		chat: providers.ChatRequest{
			SystemPrompt: systemPrompt,
			UserMessage:  buildGenerateMessage(req.Requirements, req.Platform, req.ProjectContext),
			MaxTokens:    s.maxOutputTokens,
		},
	}, sink)
}

func (s *Service) Refine(ctx context.Context, req RefineRequest, sink Sink) (Result, error) {
	if strings.TrimSpace(req.ExistingPRD) == "" {
		return Result{}, s.rejected(OpRefine, apperr.Validation("There is no existing PRD to refine"))
	}
	if strings.TrimSpace(req.AdditionalRequirements) == "" {
		return Result{}, s.rejected(OpRefine, apperr.Validation("Please enter additional requirements"))
	}
	if err := s.checkContext(req.ProjectContext); err != nil {
		return Result{}, s.rejected(OpRefine, err)
	}
	return s.run(ctx, job{
		op:           OpRefine,
		ownerID:      req.OwnerID,
		title:        refinedTitle(req.AdditionalRequirements),
		requirements: refinedRequirements(req.ExistingPRD, req.AdditionalRequirements),
		platform:     req.Platform,
		chat: providers.ChatRequest{
			SystemPrompt: refineSystemPrompt,
			UserMessage:  buildRefineMessage(req.ExistingPRD, req.AdditionalRequirements, req.Platform, req.ProjectContext),
			MaxTokens:    s.maxOutputTokens,
		},
		restore: req.ExistingPRD,
	}, sink)
}

func (s *Service) checkContext(projectContext string) error {
	if s.maxContextBytes > 0 && len(projectContext) > s.maxContextBytes {
		return apperr.Validation(fmt.Sprintf("Project context is too large (max %d KB)", s.maxContextBytes>>10))
	}
	return nil
}

func (s *Service) run(ctx context.Context, j job, sink Sink) (Result, error) {
	started := s.now()
	log := s.logger.With().Str("op", j.op).Str("owner_id", j.ownerID).Logger()

	cred, err := s.resolver.Resolve(ctx, j.ownerID)
	if err != nil {
		return Result{}, s.rejected(j.op, err)
	}
	adapter, err := s.adapters.Build(cred.Kind)
	if err != nil {
		return Result{}, s.rejected(j.op, fmt.Errorf("build provider adapter: %w", err))
	}
	log = log.With().Str("provider", string(cred.Kind)).Str("scope", string(cred.Scope)).Logger()
	log.Info().Str("platform", j.platform).Int("requirements_len", len(j.requirements)).Msg("generation started")

	streamCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	body, err := adapter.Stream(streamCtx, cred, j.chat)
	if err != nil {
		return Result{}, s.failed(ctx, streamCtx, j, cred, err, false, sink)
	}
	defer body.Close()

	disp := &display{sink: sink, log: log}
	disp.reset()

	content, err := s.consume(body, disp, log)
	if err != nil {
		return Result{}, s.failed(ctx, streamCtx, j, cred, err, true, sink)
	}

	res := Result{Content: content, Provider: cred.Kind, Model: cred.Model, Scope: cred.Scope}
	if j.ownerID != "" && strings.TrimSpace(content) != "" {
		res.PRD = s.persist(ctx, j, content, log)
	}

	s.metrics.Generations.WithLabelValues(j.op, "ok").Inc()
	s.metrics.GenerationSeconds.WithLabelValues(j.op, string(cred.Kind)).Observe(s.now().Sub(started).Seconds())
	log.Info().Int("content_len", len(content)).Bool("saved", res.PRD != nil).Msg("generation finished")
	return res, nil
}

func (s *Service) consume(body io.Reader, disp *display, log zerolog.Logger) (string, error) {
	dec := sse.NewDecoder(body, sse.WithMalformedHandler(func(payload []byte, err error) {
		s.metrics.MalformedFrames.Inc()
		log.Debug().Err(err).Int("payload_len", len(payload)).Msg("skipping malformed stream frame")
	}))

	var acc strings.Builder
	for fragment, err := range dec.Fragments() {
		if err != nil {
			return "", err
		}
		acc.WriteString(fragment)
		s.metrics.StreamFragments.Inc()
		disp.append(fragment)
	}
	return acc.String(), nil
}

// display feeds a Sink until its first failure. The document keeps
// streaming into the accumulator after the display stops.
type display struct {
	sink   Sink
	log    zerolog.Logger
	broken bool
}

func (d *display) reset() {
	if err := d.sink.Reset(); err != nil {
		d.fail("reset", err)
	}
}

func (d *display) append(fragment string) {
	if d.broken {
		return
	}
	if err := d.sink.Append(fragment); err != nil {
		d.fail("append", err)
	}
}

func (d *display) fail(step string, err error) {
	d.broken = true
	d.log.Warn().Err(err).Str("step", step).Msg("display failed, continuing without it")
}

func (s *Service) persist(ctx context.Context, j job, content string, log zerolog.Logger) *storage.PRD {
	rec := storage.PRD{
		ID:           uuid.NewString(),
		OwnerID:      j.ownerID,
		Title:        j.title,
		Requirements: j.requirements,
		Platform:     j.platform,
		Content:      content,
		CreatedAt:    s.now().UTC(),
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.InsertPRD(saveCtx, rec); err != nil {
		s.metrics.PersistFailures.Inc()
		log.Error().Err(err).Msg("failed to save generated PRD")
		return nil
	}
	return &rec
}

// failed classifies err, restores the previous document for refinements
// whose display was already cleared and records the outcome.
func (s *Service) failed(ctx, streamCtx context.Context, j job, cred providers.Credential, err error, displayReset bool, sink Sink) error {
	switch {
	case ctx.Err() != nil:
		err = fmt.Errorf("generation aborted: %w", context.Cause(ctx))
	case errors.Is(streamCtx.Err(), context.DeadlineExceeded):
		err = apperr.Timeout(err)
	default:
		if _, ok := apperr.As(err); !ok && displayReset {
			ae := apperr.Upstream(apperr.KindUpstream, string(cred.Kind), 0, "The AI provider stream was interrupted. Please try again.")
			ae.Err = err
			err = ae
		}
	}

	if displayReset && j.restore != "" {
		if rerr := sink.Restore(j.restore); rerr != nil {
			s.logger.Warn().Err(rerr).Str("op", j.op).Msg("failed to restore previous PRD")
		}
	}

	s.logger.Warn().Err(err).
		Str("op", j.op).
		Str("provider", string(cred.Kind)).
		Str("kind", string(apperr.KindOf(err))).
		Msg("generation failed")
	return s.rejected(j.op, err)
}

func (s *Service) rejected(op string, err error) error {
	outcome := string(apperr.KindOf(err))
	if errors.Is(err, context.Canceled) {
		outcome = "canceled"
	}
	s.metrics.Generations.WithLabelValues(op, outcome).Inc()
	return err
}
