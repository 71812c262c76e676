package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ErrNotPDF marks a download whose body is not a PDF, typically an HTML
// error page served with status 200.
var ErrNotPDF = eris.New("fetcher: response is not a PDF")

var pdfMagic = []byte("%PDF-")

// PDFPath returns the cache path of a proposition's document under dir.
func PDFPath(dir string, propositionID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.pdf", propositionID))
}

// FetchPDF downloads the proposition document into dir and returns its
// path. A previously downloaded, valid file is reused.
func FetchPDF(ctx context.Context, f Fetcher, rawURL, dir string, propositionID int64) (string, error) {
	path := PDFPath(dir, propositionID)
	if ok, _ := IsPDF(path); ok {
		return path, nil
	}
	if rawURL == "" {
		return "", eris.Errorf("fetcher: proposition %d has no document url", propositionID)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create download dir")
	}
	tmp := path + ".part"
	if _, err := f.DownloadToFile(ctx, rawURL, tmp); err != nil {
		return "", eris.Wrapf(err, "fetcher: download proposition %d", propositionID)
	}

	ok, err := IsPDF(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if !ok {
		_ = os.Remove(tmp)
		return "", eris.Wrapf(ErrNotPDF, "proposition %d", propositionID)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", eris.Wrap(err, "fetcher: move download into place")
	}
	return path, nil
}

// IsPDF reports whether the file at path starts with the PDF header.
func IsPDF(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, eris.Wrap(err, "fetcher: open file")
	}
	defer file.Close() //nolint:errcheck

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(file, head); err != nil {
		return false, nil
	}
	return bytes.Equal(head, pdfMagic), nil
}
