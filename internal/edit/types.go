// Package edit orchestrates an image edit: it builds the multimodal request,
// runs the bounded retry and compression fallback loop against the remote
// endpoint, extracts image references from the response and materializes
// them for delivery.
package edit

import (
	"time"

	"github.com/fpang/grok-image-edit/internal/access"
	"github.com/fpang/grok-image-edit/internal/config"
)

// Variant is the version of the source image used for an attempt.
type Variant string

const (
	VariantOriginal   Variant = "original"
	VariantCompressed Variant = "compressed"
)

// Encoding is how the remote service returned an artifact.
type Encoding string

const (
	EncodingURL    Encoding = "url"
	EncodingBase64 Encoding = "base64"
)

// SourceImage is the image to edit.
type SourceImage struct {
	Data     []byte
	MIMEType string
}

// Request is one inbound edit command. Options is a snapshot owned by the
// request; later configuration changes do not affect it.
type Request struct {
	Identity access.Identity
	Source   SourceImage
	Prompt   string
	Options  config.Options
	// TaskID is generated when empty.
	TaskID string
}

// AttemptRecord describes one remote call.
type AttemptRecord struct {
	Index   int
	Variant Variant
	Success bool
	Kind    Kind
	Err     error
	Elapsed time.Duration
}

// Artifact is one image found in a response. The materializer fills
// LocalPath and RelayRef.
type Artifact struct {
	Encoding  Encoding
	Data      []byte
	SourceURL string
	MIMEType  string
	LocalPath string
	RelayRef  string
}

// DeliveryKind says what a delivery reference points at.
type DeliveryKind string

const (
	// DeliveryURL is a remote URL returned by the service.
	DeliveryURL DeliveryKind = "url"
	// DeliveryLocal is an absolute path on this host.
	DeliveryLocal DeliveryKind = "local"
	// DeliveryRelay is a path or URL issued by a relay.
	DeliveryRelay DeliveryKind = "relay"
)

// Delivery is what the transport sends for one artifact.
type Delivery struct {
	Seq      int
	Kind     DeliveryKind
	Ref      string
	MIMEType string
	// LocalPath is set when the artifact is on disk, even if Ref points
	// elsewhere. It stays valid until the batch is released.
	LocalPath string
}

// Result summarises a processed request. It is returned alongside errors too,
// so callers always see the attempt log.
type Result struct {
	TaskID     string
	Attempts   []AttemptRecord
	Deliveries []Delivery
	// Variant that produced the successful response.
	Variant Variant
	Elapsed time.Duration
}
