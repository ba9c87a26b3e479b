// Package extract turns corpus files into normalized plain text.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyText is returned when a file yields no text after normalization.
	ErrEmptyText = errors.New("no extractable text")
	// ErrUnsupportedFormat is returned for extensions with no reader.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Extractor extracts plain text from document files.
type Extractor struct {
	normalize bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRawText keeps the extracted text as the reader produced it.
func WithRawText() Option {
	return func(e *Extractor) { e.normalize = false }
}

// NewExtractor returns an Extractor that collapses whitespace in its output.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{normalize: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supported reports whether ext (with leading dot) has a reader.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".xlsx", ".odt", ".rtf", ".txt", ".md", ".rst":
		return true
	}
	return false
}

// Extract reads the file at path and returns its text content.
// A file that yields only whitespace returns ErrEmptyText.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(ext) {
	case ".pdf":
		text, err = extractPDF(content)
	case ".docx":
		text, err = extractDOCX(content)
	case ".odt", ".rtf":
		text, err = extractCat(content)
	case ".xlsx":
		text, err = extractExcel(content)
	case ".txt", ".md", ".rst":
		text, err = extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", err
	}
	if e.normalize {
		text = Normalize(text)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	return text, nil
}
