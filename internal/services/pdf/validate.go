package pdf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNotPDF means the bytes do not start with the PDF magic number. The
// portal's file endpoint answers with an HTML error page when a statement is gone.
var ErrNotPDF = errors.New("not a PDF document")

// Magic is the PDF header prefix
var Magic = []byte("%PDF")

// IsPDF reports whether data starts with the PDF header
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

// Validate checks the header and that pdfcpu can read a page tree
func Validate(data []byte) error {
	if !IsPDF(data) {
		return ErrNotPDF
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return fmt.Errorf("unreadable PDF: %w", err)
	}
	if pages == 0 {
		return fmt.Errorf("PDF has no pages")
	}
	return nil
}
