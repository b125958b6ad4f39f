package document

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/readingquiz/internal/model"
)

var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func TestRead(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		declared string
		max      int64
		wantErr  error
	}{
		{"valid pdf", minimalPDF, "application/pdf", DefaultMaxBytes, nil},
		{"no limit", minimalPDF, "application/pdf", 0, nil},
		{"declared with params", minimalPDF, "application/pdf; name=a.pdf", DefaultMaxBytes, nil},
		{"empty", nil, "application/pdf", DefaultMaxBytes, ErrEmpty},
		{"too large", minimalPDF, "application/pdf", 8, ErrTooLarge},
		{"wrong declared type", minimalPDF, "text/plain", DefaultMaxBytes, ErrUnsupportedType},
		{"missing declared type", minimalPDF, "", DefaultMaxBytes, ErrUnsupportedType},
		{"text disguised as pdf", []byte("just some notes"), "application/pdf", DefaultMaxBytes, ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Read(bytes.NewReader(tt.data), "chapter.pdf", tt.declared, tt.max)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Read() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Read() unexpected error: %v", err)
			}
			if doc.MediaType != model.PDFMediaType {
				t.Errorf("MediaType = %q, want %q", doc.MediaType, model.PDFMediaType)
			}
			if doc.Name != "chapter.pdf" {
				t.Errorf("Name = %q, want chapter.pdf", doc.Name)
			}
			if !bytes.Equal(doc.Data, tt.data) {
				t.Error("Data was modified")
			}
		})
	}
}

func TestBase64(t *testing.T) {
	doc, err := Read(bytes.NewReader(minimalPDF), "a.pdf", "application/pdf", 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	enc := doc.Base64()
	if !strings.HasPrefix(enc, "JVBERi0xLjQ") {
		t.Errorf("Base64() = %q, want PDF magic prefix", enc[:16])
	}
}
