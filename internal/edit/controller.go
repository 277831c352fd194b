package edit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/grok"
	"github.com/fpang/grok-image-edit/internal/metrics"
)

var tracer = otel.Tracer("edit")

// Sender performs one remote call.
type Sender interface {
	Send(ctx context.Context, target grok.Target, req *grok.ChatRequest) ([]byte, error)
}

// Outcome is the terminal result of Execute.
type Outcome struct {
	Body     []byte
	Variant  Variant
	Attempts []AttemptRecord
}

// Controller runs the attempt loop:
//
//	Idle -> Attempting -> (CompressFallback) -> Attempting -> Succeeded | Failed
//
// Every attempt has its own timeout. The first failure switches to the
// compressed variant when auto-compress is enabled; later failures retry the
// last variant until max_retry_attempts+1 attempts have been made.
type Controller struct {
	sender Sender
	sink   metrics.Sink
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewController creates a Controller. A nil sink discards metrics.
func NewController(sender Sender, sink metrics.Sink) *Controller {
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Controller{sender: sender, sink: sink, sleep: sleepContext}
}

// Execute sends payloads from b until one succeeds or attempts run out. The
// returned Outcome always carries the attempt log; on failure the error is
// the last attempt's.
func (c *Controller) Execute(ctx context.Context, b *Builder, opts config.Options) (*Outcome, error) {
	out := &Outcome{Variant: VariantOriginal}
	if err := b.Validate(); err != nil {
		return out, err
	}

	target := grok.Target{URL: opts.ChatCompletionsURL(), APIKey: opts.APIKey}
	maxAttempts := opts.MaxRetryAttempts + 1
	fallbackUsed := false
	var lastErr *Error

	for i := 1; i <= maxAttempts; i++ {
		if i > 1 {
			if err := c.sleep(ctx, opts.RetryBackoff()); err != nil {
				return out, newError(KindCanceled, "", "request canceled", err)
			}
		}

		payload, err := b.Build(out.Variant)
		if err != nil {
			return out, err
		}

		body, rec := c.attempt(ctx, target, payload, i, out.Variant, opts.Timeout())
		out.Attempts = append(out.Attempts, rec)
		if rec.Success {
			out.Body = body
			return out, nil
		}

		lastErr = rec.Err.(*Error)
		if !Retryable(lastErr.Kind) {
			return out, lastErr
		}
		if i == maxAttempts {
			break
		}

		if !fallbackUsed && opts.AutoCompressEnabled && out.Variant == VariantOriginal {
			fallbackUsed = true
			if _, err := b.compress(); err != nil {
				log.Warn().Err(err).Msg("Compression fallback unavailable, retrying original image")
			} else {
				out.Variant = VariantCompressed
				log.Info().
					Int("next_attempt", i+1).
					Int("max_side", opts.AutoCompressMaxSide).
					Int("quality", opts.AutoCompressQuality).
					Msg("Switching to compressed image after first failure")
			}
		}
	}

	log.Error().
		Err(lastErr).
		Int("attempts", len(out.Attempts)).
		Msg("All edit attempts failed")
	return out, lastErr
}

func (c *Controller) attempt(ctx context.Context, target grok.Target, payload *grok.ChatRequest, index int, variant Variant, timeout time.Duration) ([]byte, AttemptRecord) {
	ctx, span := tracer.Start(ctx, "edit.attempt")
	span.SetAttributes(
		attribute.Int("edit.attempt", index),
		attribute.String("edit.variant", string(variant)),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	body, err := c.sender.Send(attemptCtx, target, payload)
	rec := AttemptRecord{Index: index, Variant: variant, Elapsed: time.Since(start)}

	if err == nil {
		rec.Success = true
		c.sink.Attempt(string(variant), "success", rec.Elapsed)
		log.Info().
			Int("attempt", index).
			Str("variant", string(variant)).
			Dur("duration", rec.Elapsed).
			Msg("Edit attempt succeeded")
		return body, rec
	}

	e := classifyAttemptError(ctx, err)
	rec.Kind = e.Kind
	rec.Err = e
	span.RecordError(err)
	span.SetStatus(codes.Error, string(e.Kind))
	c.sink.Attempt(string(variant), string(e.Kind), rec.Elapsed)
	log.Warn().
		Err(err).
		Int("attempt", index).
		Str("variant", string(variant)).
		Str("kind", string(e.Kind)).
		Dur("duration", rec.Elapsed).
		Msg("Edit attempt failed")
	return nil, rec
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
