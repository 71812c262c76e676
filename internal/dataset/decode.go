package dataset

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// rootKey is the envelope key used by every Câmara open-data export.
const rootKey = "dados"

// DecodeRecords streams the elements of the "dados" array of r, calling fn
// for each decoded element. Other top-level keys are skipped. A document
// without a "dados" key yields no records.
func DecodeRecords[T any](ctx context.Context, r io.Reader, fn func(T) error) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return eris.Wrap(err, "dataset: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return eris.Errorf("dataset: expected '{', got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "dataset: read key")
		}
		key, _ := keyTok.(string)
		if key != rootKey {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return eris.Wrapf(err, "dataset: skip key %q", key)
			}
			continue
		}
		if err := decodeArray(ctx, dec, fn); err != nil {
			return err
		}
	}
	return nil
}

func decodeArray[T any](ctx context.Context, dec *json.Decoder, fn func(T) error) error {
	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "dataset: read array token")
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return eris.Errorf("dataset: expected '[' under %q, got %v", rootKey, tok)
	}

	for i := 0; dec.More(); i++ {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "dataset: context cancelled")
		}
		var item T
		if err := dec.Decode(&item); err != nil {
			return eris.Wrapf(err, "dataset: decode element %d", i)
		}
		if err := fn(item); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "dataset: read closing token")
	}
	return nil
}
