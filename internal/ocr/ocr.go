// Package ocr turns proposition PDFs into per-page text.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/legis-enrich/internal/config"
	"github.com/sells-group/legis-enrich/internal/model"
)

// ErrNoText marks a PDF that yielded no usable text, e.g. a scanned image
// without a text layer when the local extractor is used.
var ErrNoText = eris.New("ocr: document has no text")

// Extractor extracts the text of each page of a PDF file.
type Extractor interface {
	ExtractPages(ctx context.Context, pdfPath string) ([]string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// Extract runs ex over the PDF and builds the proposition's RawDocument.
// It returns ErrNoText when no page carries non-blank text.
func Extract(ctx context.Context, ex Extractor, propositionID int64, pdfPath string) (model.RawDocument, error) {
	pages, err := ex.ExtractPages(ctx, pdfPath)
	if err != nil {
		return model.RawDocument{}, err
	}
	doc := model.NewRawDocument(propositionID, pages)
	if doc.Empty() {
		return doc, eris.Wrapf(ErrNoText, "proposition %d", propositionID)
	}
	return doc, nil
}
