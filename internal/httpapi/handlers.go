package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fpang/grok-image-edit/internal/access"
	"github.com/fpang/grok-image-edit/internal/edit"
	"github.com/fpang/grok-image-edit/internal/tracing"
)

type attemptJSON struct {
	Index     int    `json:"index"`
	Variant   string `json:"variant"`
	Success   bool   `json:"success"`
	Kind      string `json:"kind,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type imageJSON struct {
	Seq      int    `json:"seq"`
	Kind     string `json:"kind"`
	Ref      string `json:"ref"`
	MIMEType string `json:"mime_type,omitempty"`
	// Data holds the file contents for local deliveries, since the file is
	// removed once the request completes.
	Data []byte `json:"data,omitempty"`
}

type editResponse struct {
	TaskID    string        `json:"task_id"`
	Variant   string        `json:"variant,omitempty"`
	ElapsedMs int64         `json:"elapsed_ms"`
	Attempts  []attemptJSON `json:"attempts"`
	Images    []imageJSON   `json:"images,omitempty"`
	Message   string        `json:"message,omitempty"`
	TraceID   string        `json:"trace_id,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) help(c *gin.Context) {
	c.String(http.StatusOK, edit.HelpText())
}

func (s *Server) probe(c *gin.Context) {
	opts := s.opts.Clone()
	if !opts.IsAdmin(identityFrom(c).UserID) {
		c.JSON(http.StatusForbidden, errorResponse{Error: "admin only", Kind: string(edit.KindPermission)})
		return
	}
	h, err := s.svc.HealthCheck(c.Request.Context(), opts)
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"api_key_configured": h.APIKeyConfigured,
		"server_url":         h.ServerURL,
		"model_id":           h.ModelID,
		"enabled":            h.Enabled,
		"reachable":          h.Reachable,
		"model_available":    h.ModelAvailable,
		"latency_ms":         h.Latency.Milliseconds(),
		"error":              h.Error,
		"lines":              h.Lines(),
	})
}

func (s *Server) createEdit(c *gin.Context) {
	ctx := c.Request.Context()
	opts := s.opts.Clone()
	id := identityFrom(c)

	if d := s.svc.Authorize(ctx, id, opts); !d.Allowed {
		if d.RetryAfter > 0 {
			c.Header("Retry-After", fmt.Sprintf("%d", int(d.RetryAfter.Seconds())+1))
		}
		s.fail(c, "", edit.DeniedError(d, opts))
		return
	}

	data, mimeType, err := readImage(c, "image", opts.MaxDownloadBytes)
	if err != nil {
		s.fail(c, "", err)
		return
	}

	req := edit.Request{
		Identity: id,
		Source:   edit.SourceImage{Data: data, MIMEType: mimeType},
		Prompt:   c.PostForm("prompt"),
		Options:  opts,
	}

	var images []imageJSON
	res, err := s.svc.ProcessEdit(ctx, req, func(_ context.Context, ds []edit.Delivery) error {
		for _, d := range ds {
			img := imageJSON{Seq: d.Seq, Kind: string(d.Kind), Ref: d.Ref, MIMEType: d.MIMEType}
			if d.LocalPath != "" {
				b, err := os.ReadFile(d.LocalPath)
				if err != nil {
					return fmt.Errorf("read %s: %w", d.LocalPath, err)
				}
				img.Data = b
			}
			images = append(images, img)
		}
		return nil
	})
	if err != nil {
		s.fail(c, res.TaskID, err)
		return
	}

	resp := editResponse{
		TaskID:    res.TaskID,
		Variant:   string(res.Variant),
		ElapsedMs: res.Elapsed.Milliseconds(),
		Attempts:  attemptsJSON(res.Attempts),
		Images:    images,
		Message:   edit.AcceptedText(opts.StatusMessageMode, res.TaskID),
		TraceID:   tracing.TraceID(ctx),
	}
	c.JSON(http.StatusOK, resp)
}

// readImage reads a multipart file field. A missing field is left to the
// builder's validation so the caller sees the usual InputError.
func readImage(c *gin.Context, field string, maxBytes int64) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", &edit.Error{Kind: edit.KindInput, Reason: "bad-form", Message: "The upload could not be read.", Err: err}
	}
	if fh.Size > maxBytes {
		return nil, "", &edit.Error{Kind: edit.KindInput, Reason: "too-large",
			Message: fmt.Sprintf("The image is larger than %d bytes.", maxBytes)}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", &edit.Error{Kind: edit.KindInput, Reason: "bad-form", Message: "The upload could not be read.", Err: err}
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return nil, "", &edit.Error{Kind: edit.KindInput, Reason: "bad-form", Message: "The upload could not be read.", Err: err}
	}
	mimeType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = ""
	}
	return data, mimeType, nil
}

func (s *Server) fail(c *gin.Context, taskID string, err error) {
	kind := edit.KindOf(err)
	msg := edit.StatusText(s.opts.StatusMessageMode, err)
	c.JSON(statusFor(kind, edit.ReasonOf(err)), errorResponse{
		Error:   msg,
		Kind:    string(kind),
		Reason:  edit.ReasonOf(err),
		TaskID:  taskID,
		TraceID: tracing.TraceID(c.Request.Context()),
	})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind edit.Kind, reason string) int {
	switch kind {
	case edit.KindInput:
		return http.StatusBadRequest
	case edit.KindPermission:
		if reason == string(access.ReasonAnonymous) {
			return http.StatusUnauthorized
		}
		if reason == string(access.ReasonRateLimited) || reason == string(access.ReasonBusy) {
			return http.StatusTooManyRequests
		}
		return http.StatusForbidden
	case edit.KindConfig, edit.KindCanceled:
		return http.StatusServiceUnavailable
	case edit.KindNetwork:
		return http.StatusGatewayTimeout
	case edit.KindRemote, edit.KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func attemptsJSON(in []edit.AttemptRecord) []attemptJSON {
	out := make([]attemptJSON, 0, len(in))
	for _, a := range in {
		out = append(out, attemptJSON{
			Index:     a.Index,
			Variant:   string(a.Variant),
			Success:   a.Success,
			Kind:      string(a.Kind),
			ElapsedMs: a.Elapsed.Milliseconds(),
		})
	}
	return out
}
