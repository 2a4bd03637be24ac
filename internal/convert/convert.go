// Package convert turns uploaded file bytes into the stored document body and
// preview line. Converters are selected per content type, with a generic
// passthrough fallback.
package convert

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Result is the converted document body.
type Result struct {
	// Content is the text stored as the document body.
	Content string

	// PreviewLine is the first meaningful line, used in listings.
	PreviewLine string
}

// Converter produces a document body from raw upload bytes.
type Converter interface {
	// Name identifies the converter in logs.
	Name() string

	// Convert transforms the uploaded bytes.
	Convert(fileName string, data []byte) (Result, error)
}

// ForContentType selects a converter for the given content type.
func ForContentType(contentType string) Converter {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "text/markdown"):
		return &MarkdownConverter{}
	case strings.HasPrefix(ct, "text/"), strings.HasPrefix(ct, "application/json"):
		return &PlainTextConverter{}
	default:
		return &GenericConverter{}
	}
}

// PlainTextConverter stores text uploads verbatim.
type PlainTextConverter struct{}

func (c *PlainTextConverter) Name() string { return "plaintext" }

func (c *PlainTextConverter) Convert(fileName string, data []byte) (Result, error) {
	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("%s: not valid UTF-8 text", fileName)
	}
	content := string(data)
	return Result{
		Content:     content,
		PreviewLine: previewLine(content),
	}, nil
}

// MarkdownConverter stores markdown verbatim but strips heading markers from
// the preview line.
type MarkdownConverter struct{}

func (c *MarkdownConverter) Name() string { return "markdown" }

func (c *MarkdownConverter) Convert(fileName string, data []byte) (Result, error) {
	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("%s: not valid UTF-8 text", fileName)
	}
	content := string(data)
	preview := strings.TrimLeft(previewLine(content), "# ")
	return Result{
		Content:     content,
		PreviewLine: preview,
	}, nil
}

// GenericConverter handles unknown formats: text passes through, binary data
// is rejected so the processing job fails visibly rather than storing garbage.
type GenericConverter struct{}

func (c *GenericConverter) Name() string { return "generic" }

func (c *GenericConverter) Convert(fileName string, data []byte) (Result, error) {
	if !utf8.Valid(data) || containsNUL(data) {
		return Result{}, fmt.Errorf("%s: unsupported binary format", fileName)
	}
	content := string(data)
	return Result{
		Content:     content,
		PreviewLine: previewLine(content),
	}, nil
}

// previewLine returns the first non-empty line, truncated to 120 runes.
func previewLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > 120 {
			return string(runes[:120])
		}
		return line
	}
	return ""
}

func containsNUL(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return true
		}
	}
	return false
}
