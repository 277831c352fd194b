package edit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fpang/grok-image-edit/internal/access"
	"github.com/fpang/grok-image-edit/internal/auth"
	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/grok"
	"github.com/fpang/grok-image-edit/internal/imaging"
	"github.com/fpang/grok-image-edit/internal/metrics"
	"github.com/fpang/grok-image-edit/internal/relay"
)

// DeliverFunc hands deliveries to the transport. Local files referenced by
// the deliveries exist until it returns.
type DeliverFunc func(ctx context.Context, deliveries []Delivery) error

// Deps are the collaborators of a Service. Only Gate and Sender are required.
type Deps struct {
	Gate       *access.Gate
	Inflight   *access.Inflight
	Sender     Sender
	Prober     auth.ModelLister
	Downloader Downloader
	S3Relay    relay.Relay
	Sink       metrics.Sink
}

// Service is the edit request orchestrator. It holds no per-request state
// and may be used concurrently.
type Service struct {
	gate         *access.Gate
	inflight     *access.Inflight
	controller   *Controller
	materializer *Materializer
	prober       auth.ModelLister
	sink         metrics.Sink
}

// NewService wires a Service.
func NewService(deps Deps) *Service {
	sink := deps.Sink
	if sink == nil {
		sink = metrics.Nop{}
	}
	inflight := deps.Inflight
	if inflight == nil {
		inflight = access.NewInflight()
	}
	return &Service{
		gate:         deps.Gate,
		inflight:     inflight,
		controller:   NewController(deps.Sender, sink),
		materializer: NewMaterializer(deps.Downloader, deps.S3Relay),
		prober:       deps.Prober,
		sink:         sink,
	}
}

// Authorize runs the permission gate. Call it before ProcessEdit; an
// admitted request has consumed one slot of its rate window.
func (s *Service) Authorize(ctx context.Context, id access.Identity, opts config.Options) access.Decision {
	d := s.gate.Authorize(ctx, id, opts)
	if !d.Allowed {
		s.sink.Denied(string(d.Reason))
		log.Info().
			Str("user_id", id.UserID).
			Str("group_id", id.GroupID).
			Str("reason", string(d.Reason)).
			Msg("Edit request denied")
	}
	return d
}

// ProcessEdit runs one authorized request to completion: build, execute with
// retries, parse, materialize and deliver. The Result is returned on failure
// too and always carries the task id and attempt log. Local files are
// released before ProcessEdit returns, including on cancellation.
func (s *Service) ProcessEdit(ctx context.Context, req Request, deliver DeliverFunc) (*Result, error) {
	start := time.Now()
	opts := req.Options
	res := &Result{TaskID: req.TaskID, Variant: VariantOriginal}
	if res.TaskID == "" {
		res.TaskID = NewTaskID()
	}

	ctx, span := tracer.Start(ctx, "edit.process")
	span.SetAttributes(
		attribute.String("edit.task_id", res.TaskID),
		attribute.String("edit.model", opts.ModelID),
	)
	defer span.End()

	logger := log.With().
		Str("task_id", res.TaskID).
		Str("user_id", req.Identity.UserID).
		Str("group_id", req.Identity.GroupID).
		Logger()

	err := s.process(ctx, req, res, deliver)
	res.Elapsed = time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Error().
			Err(err).
			Int("attempts", len(res.Attempts)).
			Dur("duration", res.Elapsed).
			Msg("Edit request failed")
	} else {
		logger.Info().
			Int("attempts", len(res.Attempts)).
			Int("images", len(res.Deliveries)).
			Str("variant", string(res.Variant)).
			Dur("duration", res.Elapsed).
			Msg("Edit request completed")
	}
	s.sink.Request(outcome, res.Elapsed)
	return res, err
}

func (s *Service) process(ctx context.Context, req Request, res *Result, deliver DeliverFunc) error {
	opts := req.Options
	if !opts.Enabled {
		return newError(KindConfig, ReasonDisabled, "Image editing is disabled.", nil)
	}
	if opts.APIKey == "" {
		return newError(KindConfig, ReasonMissingAPIKey, "The Grok API key is not configured.", nil)
	}

	b := NewBuilder(req.Source, req.Prompt, opts)
	if err := b.Validate(); err != nil {
		return err
	}

	if opts.SingleTaskPerUser && req.Identity.UserID != "" {
		release, running, ok := s.inflight.Acquire(req.Identity.UserID, res.TaskID)
		if !ok {
			e := DeniedError(access.Deny(access.ReasonBusy), opts)
			e.Message += " (task " + running + ")"
			s.sink.Denied(string(access.ReasonBusy))
			return e
		}
		defer release()
	}

	if opts.LogInputImageMeta {
		log.Info().
			Str("task_id", res.TaskID).
			EmbedObject(imaging.Inspect(req.Source.Data)).
			Msg("Input image")
	}

	out, err := s.controller.Execute(ctx, b, opts)
	res.Attempts = out.Attempts
	res.Variant = out.Variant
	if err != nil {
		return err
	}

	artifacts, err := Parse(out.Body, opts.MaxImagesPerResponse)
	if err != nil {
		return err
	}

	batch, err := s.materializer.Materialize(ctx, req.Identity.UserID, res.TaskID, artifacts, opts)
	defer batch.Release()
	res.Deliveries = batch.Deliveries
	if err != nil {
		return err
	}

	if deliver != nil {
		if err := deliver(ctx, batch.Deliveries); err != nil {
			if ctx.Err() != nil {
				return newError(KindCanceled, "", "request canceled", err)
			}
			return newError(KindDelivery, "", "The edited image could not be sent.", err)
		}
	}
	s.sink.Artifacts(len(batch.Deliveries))
	return nil
}

// NewTaskID returns an 8 character task id.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Health is the result of a connectivity probe.
type Health struct {
	APIKeyConfigured bool
	ServerURL        string
	ModelID          string
	Timeout          time.Duration
	MaxRetries       int
	ImagesDir        string
	MaxImages        int
	Enabled          bool

	Reachable      bool
	ModelAvailable bool
	Latency        time.Duration
	Error          string
}

// HealthCheck summarises the configuration and probes the models endpoint.
// A failed probe is reported in Health.Error and as the returned error.
func (s *Service) HealthCheck(ctx context.Context, opts config.Options) (*Health, error) {
	h := &Health{
		APIKeyConfigured: opts.APIKey != "",
		ServerURL:        opts.ServerURL,
		ModelID:          opts.ModelID,
		Timeout:          opts.Timeout(),
		MaxRetries:       opts.MaxRetryAttempts,
		ImagesDir:        opts.ImagesDir(),
		MaxImages:        opts.MaxImagesPerResponse,
		Enabled:          opts.Enabled,
	}
	if opts.APIKey == "" {
		err := newError(KindConfig, ReasonMissingAPIKey, "The Grok API key is not configured.", nil)
		h.Error = err.Message
		return h, err
	}
	if s.prober == nil {
		err := newError(KindConfig, "", "No connectivity prober is configured.", nil)
		h.Error = err.Message
		return h, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout())
	defer cancel()
	probe, err := auth.ValidateAPIKey(ctx, s.prober, grok.Target{URL: opts.ModelsURL(), APIKey: opts.APIKey}, opts.ModelID)
	if err != nil {
		h.Error = err.Error()
		return h, err
	}
	h.Reachable = true
	h.ModelAvailable = probe.ModelAvailable
	h.Latency = probe.Elapsed
	return h, nil
}

// Lines renders h for chat or terminal output.
func (h *Health) Lines() []string {
	lines := []string{
		"Grok image edit diagnostics",
		fmt.Sprintf("Enabled: %t", h.Enabled),
		fmt.Sprintf("API key configured: %t", h.APIKeyConfigured),
		"Server: " + h.ServerURL,
		"Model: " + h.ModelID,
		fmt.Sprintf("Timeout: %s", h.Timeout),
		fmt.Sprintf("Max retries: %d", h.MaxRetries),
		fmt.Sprintf("Max images per response: %d", h.MaxImages),
		"Images dir: " + h.ImagesDir,
	}
	if h.Reachable {
		lines = append(lines,
			fmt.Sprintf("API reachable: yes (%s)", h.Latency.Round(time.Millisecond)),
			fmt.Sprintf("Model available: %t", h.ModelAvailable))
	} else {
		lines = append(lines, "API reachable: no")
		if h.Error != "" {
			lines = append(lines, "Error: "+h.Error)
		}
	}
	return lines
}
