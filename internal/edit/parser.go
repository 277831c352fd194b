package edit

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fpang/grok-image-edit/internal/imaging"
)

var (
	htmlImgPattern     = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`)
	markdownImgPattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)
	directURLPattern   = regexp.MustCompile(`(?i)https?://[^\s<>"'()\[\]]+\.(?:png|jpe?g|webp|gif)(?:\?[^\s<>"'()\[\]]*)?`)
	dataURIPattern     = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)
)

// attachmentFields are the message fields some deployments use for media.
var attachmentFields = []string{"attachments", "media", "files", "images"}

// Parse extracts image artifacts from a chat completions response body.
// Sources are tried in order and the first one that yields images wins:
//
//  1. data[].url
//  2. data[].b64_json
//  3. choices[0].message.content[] parts of type image_url
//  4. image references embedded in text content
//  5. message attachment arrays
//
// The result is deduplicated in order and truncated to maxImages.
func Parse(body []byte, maxImages int) ([]Artifact, error) {
	if !gjson.ValidBytes(body) {
		return nil, newError(KindParse, ReasonInvalidJSON, "The service returned an unreadable response.", nil)
	}
	root := gjson.ParseBytes(body)
	message := root.Get("choices.0.message")

	sources := []func() []Artifact{
		func() []Artifact { return fromDataURLs(root) },
		func() []Artifact { return fromDataBase64(root) },
		func() []Artifact { return fromContentParts(message) },
		func() []Artifact { return fromText(message) },
		func() []Artifact { return fromAttachments(message) },
	}

	var found []Artifact
	for _, src := range sources {
		if found = dedupe(src()); len(found) > 0 {
			break
		}
	}
	if len(found) == 0 {
		return nil, newError(KindParse, ReasonNoImages, "The service did not return any images.", nil)
	}
	if maxImages > 0 && len(found) > maxImages {
		found = found[:maxImages]
	}
	return found, nil
}

func fromDataURLs(root gjson.Result) []Artifact {
	var out []Artifact
	root.Get("data").ForEach(func(_, item gjson.Result) bool {
		if u := item.Get("url").String(); validImageURL(u) {
			out = append(out, urlArtifact(u))
		}
		return true
	})
	return out
}

func fromDataBase64(root gjson.Result) []Artifact {
	var out []Artifact
	root.Get("data").ForEach(func(_, item gjson.Result) bool {
		if a, ok := base64Artifact(item.Get("b64_json").String()); ok {
			out = append(out, a)
		}
		return true
	})
	return out
}

func fromContentParts(message gjson.Result) []Artifact {
	content := message.Get("content")
	if !content.IsArray() {
		return nil
	}
	var out []Artifact
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() != "image_url" {
			return true
		}
		ref := part.Get("image_url.url").String()
		if ref == "" {
			ref = part.Get("url").String()
		}
		if ref == "" && part.Get("image_url").Type == gjson.String {
			ref = part.Get("image_url").String()
		}
		if a, ok := refArtifact(ref); ok {
			out = append(out, a)
		}
		return true
	})
	return out
}

func fromText(message gjson.Result) []Artifact {
	var texts []string
	content := message.Get("content")
	switch {
	case content.Type == gjson.String:
		texts = append(texts, content.String())
	case content.IsArray():
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				texts = append(texts, part.Get("text").String())
			}
			return true
		})
	}

	var out []Artifact
	for _, text := range texts {
		out = append(out, scanText(text)...)
	}
	return out
}

// scanText finds html images, markdown images, direct image URLs and data
// URIs, in that order.
func scanText(text string) []Artifact {
	var out []Artifact
	for _, m := range htmlImgPattern.FindAllStringSubmatch(text, -1) {
		if a, ok := refArtifact(m[1]); ok {
			out = append(out, a)
		}
	}
	for _, m := range markdownImgPattern.FindAllStringSubmatch(text, -1) {
		if a, ok := refArtifact(m[1]); ok {
			out = append(out, a)
		}
	}
	for _, u := range directURLPattern.FindAllString(text, -1) {
		if validImageURL(u) {
			out = append(out, urlArtifact(u))
		}
	}
	for _, uri := range dataURIPattern.FindAllString(text, -1) {
		if a, ok := base64Artifact(uri); ok {
			out = append(out, a)
		}
	}
	return out
}

func fromAttachments(message gjson.Result) []Artifact {
	var out []Artifact
	for _, field := range attachmentFields {
		message.Get(field).ForEach(func(_, item gjson.Result) bool {
			ref := item.Get("url").String()
			if ref == "" && item.Type == gjson.String {
				ref = item.String()
			}
			if a, ok := refArtifact(ref); ok {
				out = append(out, a)
			}
			return true
		})
	}
	return out
}

// refArtifact accepts either an http(s) URL or a base64 data URI.
func refArtifact(ref string) (Artifact, bool) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "data:") {
		return base64Artifact(ref)
	}
	if validImageURL(ref) {
		return urlArtifact(ref), true
	}
	return Artifact{}, false
}

func urlArtifact(u string) Artifact {
	return Artifact{Encoding: EncodingURL, SourceURL: u}
}

// base64Artifact decodes raw base64 or a data URI. Data URIs must declare an
// image/* type.
func base64Artifact(s string) (Artifact, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Artifact{}, false
	}
	mimeType := ""
	if strings.HasPrefix(s, "data:") {
		header, payload, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return Artifact{}, false
		}
		mimeType = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64"))
		if !strings.HasPrefix(mimeType, "image/") {
			return Artifact{}, false
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err != nil {
			return Artifact{}, false
		}
	}
	if len(data) == 0 {
		return Artifact{}, false
	}
	if mimeType == "" {
		mimeType = imaging.DetectMIME(data)
	}
	return Artifact{Encoding: EncodingBase64, Data: data, MIMEType: mimeType}, true
}

func validImageURL(u string) bool {
	if len(u) < 10 {
		return false
	}
	lower := strings.ToLower(u)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	return !strings.ContainsAny(u, "<>\"'\n\r\t ")
}

func dedupe(in []Artifact) []Artifact {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, a := range in {
		key := a.SourceURL
		if a.Encoding == EncodingBase64 {
			key = "b64:" + string(a.Data)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
