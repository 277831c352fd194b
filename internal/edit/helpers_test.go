package edit

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/grok"
)

func pngImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 64, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testOptions(t *testing.T) config.Options {
	t.Helper()
	opts := config.Default()
	opts.APIKey = "test-key"
	opts.ServerURL = "http://grok.test"
	opts.RetryBackoffSeconds = 0
	opts.DataDir = t.TempDir()
	return opts
}

type sendFunc func(ctx context.Context, req *grok.ChatRequest) ([]byte, error)

// fakeSender replays scripted responses, repeating the last one.
type fakeSender struct {
	mu       sync.Mutex
	script   []sendFunc
	requests []*grok.ChatRequest
	targets  []grok.Target
}

func (f *fakeSender) Send(ctx context.Context, target grok.Target, req *grok.ChatRequest) ([]byte, error) {
	f.mu.Lock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	f.targets = append(f.targets, target)
	fn := f.script[min(i, len(f.script)-1)]
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func respond(body string) sendFunc {
	return func(context.Context, *grok.ChatRequest) ([]byte, error) {
		return []byte(body), nil
	}
}

func fail(err error) sendFunc {
	return func(context.Context, *grok.ChatRequest) ([]byte, error) {
		return nil, err
	}
}

// imageOf returns the data URI carried by a request.
func imageOf(t *testing.T, req *grok.ChatRequest) string {
	t.Helper()
	for _, part := range req.Messages[0].Content {
		if part.Type == grok.PartImageURL {
			return part.ImageURL.URL
		}
	}
	t.Fatal("request has no image part")
	return ""
}
