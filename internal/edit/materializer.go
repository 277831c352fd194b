package edit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/fetch"
	"github.com/fpang/grok-image-edit/internal/imaging"
	"github.com/fpang/grok-image-edit/internal/relay"
)

// Downloader fetches an image by URL.
type Downloader interface {
	Download(ctx context.Context, url string) (*fetch.Image, error)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Materializer turns parsed artifacts into deliveries: it writes decoded
// images to disk and hands them to a relay when one is configured.
type Materializer struct {
	downloader Downloader
	s3         relay.Relay
	now        func() time.Time
}

// NewMaterializer creates a Materializer. s3 may be nil; it is only used when
// no NapCat relay is configured and relay_s3_bucket is set.
func NewMaterializer(downloader Downloader, s3 relay.Relay) *Materializer {
	return &Materializer{downloader: downloader, s3: s3, now: time.Now}
}

// relayFor picks the relay for one request.
func (m *Materializer) relayFor(opts config.Options) relay.Relay {
	switch {
	case opts.NapRelayConfigured():
		return relay.NewNapCat(opts.NapServerAddress, opts.NapServerPort, opts.Timeout())
	case opts.S3RelayConfigured() && m.s3 != nil:
		return m.s3
	default:
		return nil
	}
}

// Batch holds the deliveries of one request and owns the local files written
// for them. Release must be called once delivery has been attempted.
type Batch struct {
	Deliveries []Delivery
	Artifacts  []Artifact

	files  []string
	retain bool
	once   sync.Once
}

// Release removes local files unless retention was requested. It is safe to
// call more than once; removal failures are logged.
func (b *Batch) Release() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		if b.retain {
			if len(b.files) > 0 {
				log.Debug().Strs("files", b.files).Msg("Retaining result images")
			}
			return
		}
		for _, path := range b.files {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn().Err(err).Str("path", path).Msg("Failed to remove result image")
			}
		}
	})
}

// Materialize processes artifacts in order. The returned Batch is never nil,
// so callers can always defer Release. An error is returned only when no
// artifact could be delivered.
func (m *Materializer) Materialize(ctx context.Context, userID, taskID string, artifacts []Artifact, opts config.Options) (*Batch, error) {
	batch := &Batch{retain: opts.SaveImageEnabled}
	rl := m.relayFor(opts)
	stamp := m.now().Format("20060102_150405")

	var firstErr error
	for i, art := range artifacts {
		seq := i + 1
		if err := ctx.Err(); err != nil {
			return batch, newError(KindCanceled, "", "request canceled", err)
		}

		d, err := m.materializeOne(ctx, &art, rl, batch, fileName(userID, stamp, taskID, seq), opts)
		batch.Artifacts = append(batch.Artifacts, art)
		if err != nil {
			log.Warn().Err(err).Int("seq", seq).Msg("Result image could not be delivered")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.Seq = seq
		batch.Deliveries = append(batch.Deliveries, d)
	}

	if len(batch.Deliveries) == 0 && firstErr != nil {
		return batch, firstErr
	}
	return batch, nil
}

func (m *Materializer) materializeOne(ctx context.Context, art *Artifact, rl relay.Relay, batch *Batch, name string, opts config.Options) (Delivery, error) {
	if art.Encoding == EncodingURL {
		if rl == nil || m.downloader == nil {
			return Delivery{Kind: DeliveryURL, Ref: art.SourceURL, MIMEType: art.MIMEType}, nil
		}
		img, err := m.downloader.Download(ctx, art.SourceURL)
		if err != nil {
			log.Warn().Err(err).Msg("Download failed, delivering the remote URL instead")
			return Delivery{Kind: DeliveryURL, Ref: art.SourceURL, MIMEType: art.MIMEType}, nil
		}
		art.Data = img.Data
		art.MIMEType = img.MIMEType
	}

	if art.MIMEType == "" {
		art.MIMEType = imaging.DetectMIME(art.Data)
	}
	path, err := writeImage(opts.ImagesDir(), name+"."+imaging.Extension(art.MIMEType), art.Data)
	if err != nil {
		if art.SourceURL != "" {
			log.Warn().Err(err).Msg("Write failed, delivering the remote URL instead")
			return Delivery{Kind: DeliveryURL, Ref: art.SourceURL, MIMEType: art.MIMEType}, nil
		}
		return Delivery{}, newError(KindStorage, "", "The result image could not be saved.", err)
	}
	batch.files = append(batch.files, path)
	art.LocalPath = path

	local := Delivery{Kind: DeliveryLocal, Ref: path, MIMEType: art.MIMEType, LocalPath: path}
	if rl == nil {
		return local, nil
	}

	ref, err := rl.Transfer(ctx, path)
	if err != nil {
		log.Warn().Err(err).Str("relay", rl.Name()).Msg("Relay transfer failed, delivering the local path instead")
		return local, nil
	}
	art.RelayRef = ref
	return Delivery{Kind: DeliveryRelay, Ref: ref, MIMEType: art.MIMEType, LocalPath: path}, nil
}

func writeImage(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	abs, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", abs, err)
	}
	return abs, nil
}

// fileName is grok_<user>_<timestamp>_<task>_<seq>, without extension.
func fileName(userID, stamp, taskID string, seq int) string {
	user := unsafeNameChars.ReplaceAllString(userID, "_")
	if user == "" {
		user = "anon"
	}
	task := unsafeNameChars.ReplaceAllString(taskID, "_")
	return fmt.Sprintf("grok_%s_%s_%s_%d", user, stamp, task, seq)
}
