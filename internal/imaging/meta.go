package imaging

import (
	"bytes"
	"image"
	"net/http"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog"
)

// Info summarises an input image for diagnostics.
type Info struct {
	MIMEType    string
	Format      string
	Width       int
	Height      int
	Size        int
	CameraMake  string
	CameraModel string
	HasGPS      bool
}

// Inspect reads dimensions and, when present, EXIF camera details without
// decoding the full image. Unknown formats yield only MIMEType and Size.
func Inspect(data []byte) Info {
	info := Info{MIMEType: DetectMIME(data), Size: len(data)}

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Format = format
		info.Width = cfg.Width
		info.Height = cfg.Height
	}

	exif, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return info
	}
	info.CameraMake = strings.TrimSpace(exif.Make)
	info.CameraModel = strings.TrimSpace(exif.Model)
	info.HasGPS = exif.GPS.Latitude() != 0 || exif.GPS.Longitude() != 0
	return info
}

// MarshalZerologObject logs Info as a nested object.
func (i Info) MarshalZerologObject(e *zerolog.Event) {
	e.Str("mime_type", i.MIMEType).
		Int("size", i.Size)
	if i.Format != "" {
		e.Str("format", i.Format).Int("width", i.Width).Int("height", i.Height)
	}
	if i.CameraMake != "" || i.CameraModel != "" {
		e.Str("camera", strings.TrimSpace(i.CameraMake+" "+i.CameraModel))
	}
	if i.HasGPS {
		e.Bool("has_gps", true)
	}
}

// DetectMIME sniffs an image MIME type, defaulting to image/png for
// unrecognised data since the remote service accepts it as a generic image.
func DetectMIME(data []byte) string {
	mime := http.DetectContentType(data)
	if strings.HasPrefix(mime, "image/") {
		return mime
	}
	return "image/png"
}

// Extension maps an image MIME type to a file extension without the dot.
func Extension(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
