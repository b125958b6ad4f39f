// Package document turns an uploaded reading assignment into a document
// payload that can be sent to the AI service.
package document

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pavelanni/readingquiz/internal/model"
)

// DefaultMaxBytes is the advisory upload limit.
const DefaultMaxBytes = 10 << 20

var (
	// ErrEmpty is returned for a zero-length upload.
	ErrEmpty = errors.New("document is empty")
	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = errors.New("document is too large")
	// ErrUnsupportedType is returned when the upload is not a PDF.
	ErrUnsupportedType = errors.New("document is not a PDF")
)

// Read reads an upload and checks that it is a PDF. The declared media type
// (from the multipart header) must be a PDF and the content itself must
// sniff as one. maxBytes <= 0 disables the size check.
func Read(r io.Reader, name, declaredType string, maxBytes int64) (model.Document, error) {
	if !IsAccepted(declaredType) {
		return model.Document{}, fmt.Errorf("%w: declared %q", ErrUnsupportedType, declaredType)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return model.Document{}, fmt.Errorf("read document: %w", err)
	}
	if len(data) == 0 {
		return model.Document{}, ErrEmpty
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return model.Document{}, ErrTooLarge
	}

	detected := mimetype.Detect(data)
	if !detected.Is(model.PDFMediaType) {
		return model.Document{}, fmt.Errorf("%w: content is %s", ErrUnsupportedType, detected.String())
	}

	return model.Document{
		Name:      name,
		MediaType: model.PDFMediaType,
		Data:      data,
	}, nil
}

// IsAccepted reports whether a declared media type is an accepted document type.
// Parameters such as charset are ignored.
func IsAccepted(declaredType string) bool {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(declaredType))
	if err != nil {
		return false
	}
	return mt == model.PDFMediaType
}
