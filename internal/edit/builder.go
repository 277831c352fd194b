package edit

import (
	"encoding/base64"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/grok"
	"github.com/fpang/grok-image-edit/internal/imaging"
)

// Builder assembles request payloads for one edit request. The compressed
// source is computed at most once and reused by later attempts.
type Builder struct {
	source SourceImage
	prompt string
	opts   config.Options

	compressed    *SourceImage
	compressedErr error
}

// NewBuilder creates a Builder for source and prompt.
func NewBuilder(source SourceImage, prompt string, opts config.Options) *Builder {
	if source.MIMEType == "" && len(source.Data) > 0 {
		source.MIMEType = imaging.DetectMIME(source.Data)
	}
	return &Builder{source: source, prompt: strings.TrimSpace(prompt), opts: opts}
}

// Validate reports a missing image or prompt as an InputError.
func (b *Builder) Validate() error {
	if len(b.source.Data) == 0 {
		return newError(KindInput, ReasonMissingImage, "An image is required: include one or reply to a message with an image.", nil)
	}
	if b.prompt == "" {
		return newError(KindInput, ReasonMissingPrompt, "Please describe the edit you want.", nil)
	}
	return nil
}

// Build returns the payload for variant: one user message holding the prompt
// text followed by the image as a base64 data URI.
func (b *Builder) Build(variant Variant) (*grok.ChatRequest, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	img := b.source
	if variant == VariantCompressed {
		c, err := b.compress()
		if err != nil {
			return nil, err
		}
		img = c
	}

	return &grok.ChatRequest{
		Model: b.opts.ModelID,
		Messages: []grok.Message{grok.UserMessage(
			grok.TextPart(b.Text()),
			grok.ImagePart(DataURI(img.MIMEType, img.Data)),
		)},
	}, nil
}

// Text is the prompt sent to the model.
func (b *Builder) Text() string {
	if b.opts.PromptPrefix == "" {
		return b.prompt
	}
	return b.opts.PromptPrefix + "\n" + b.prompt
}

func (b *Builder) compress() (SourceImage, error) {
	if b.compressed == nil && b.compressedErr == nil {
		res, err := imaging.Recompress(b.source.Data, b.opts.AutoCompressMaxSide, b.opts.AutoCompressQuality)
		if err != nil {
			b.compressedErr = newError(KindInput, "recompress-failed", "The image could not be recompressed.", err)
		} else {
			b.compressed = &SourceImage{Data: res.Data, MIMEType: res.MIMEType}
			log.Info().
				Int("orig_bytes", len(b.source.Data)).
				Int("compressed_bytes", len(res.Data)).
				Int("width", res.Width).
				Int("height", res.Height).
				Msg("Prepared compressed variant")
		}
	}
	if b.compressedErr != nil {
		return SourceImage{}, b.compressedErr
	}
	return *b.compressed, nil
}

// DataURI encodes data as a data URI.
func DataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
