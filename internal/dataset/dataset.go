// Package dataset loads the Câmara dos Deputados open-data exports of
// propositions and their authors and selects the subset to process.
package dataset

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/legis-enrich/internal/config"
	"github.com/sells-group/legis-enrich/internal/model"
)

const dateLayout = "2006-01-02"

// rawProposition mirrors one element of proposicoes-YYYY.json. Fields the
// pipeline does not use are left out and dropped at decode time.
type rawProposition struct {
	ID               int64  `json:"id"`
	SiglaTipo        string `json:"siglaTipo"`
	Numero           int    `json:"numero"`
	Ano              int    `json:"ano"`
	Ementa           string `json:"ementa"`
	DataApresentacao string `json:"dataApresentacao"`
	URLInteiroTeor   string `json:"urlInteiroTeor"`
}

// rawAuthor mirrors one element of proposicoesAutores-YYYY.json.
// idDeputadoAutor is null for authors who are not deputies.
type rawAuthor struct {
	IDProposicao      int64  `json:"idProposicao"`
	IDDeputadoAutor   *int64 `json:"idDeputadoAutor"`
	NomeAutor         string `json:"nomeAutor"`
	SiglaPartidoAutor string `json:"siglaPartidoAutor"`
	SiglaUFAutor      string `json:"siglaUFAutor"`
	OrdemAssinatura   int    `json:"ordemAssinatura"`
}

// Stats counts what happened to the loaded records.
type Stats struct {
	Loaded      int `json:"loaded"`
	Kept        int `json:"kept"`
	WrongType   int `json:"wrong_type"`
	OutOfRange  int `json:"out_of_range"`
	InvalidDate int `json:"invalid_date"`
	Authors     int `json:"authors"`
}

// Filter selects propositions by type and presentation date. Zero From or
// To leaves that side of the range open; both bounds are inclusive.
type Filter struct {
	Types map[string]bool
	From  time.Time
	To    time.Time
}

// NewFilter builds a Filter from the dataset configuration.
func NewFilter(cfg config.DatasetConfig) (Filter, error) {
	f := Filter{Types: make(map[string]bool, len(cfg.Types))}
	for _, t := range cfg.Types {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			f.Types[t] = true
		}
	}

	var err error
	if cfg.From != "" {
		if f.From, err = time.Parse(dateLayout, cfg.From); err != nil {
			return Filter{}, eris.Wrapf(err, "dataset: parse from date %q", cfg.From)
		}
	}
	if cfg.To != "" {
		if f.To, err = time.Parse(dateLayout, cfg.To); err != nil {
			return Filter{}, eris.Wrapf(err, "dataset: parse to date %q", cfg.To)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Filter{}, eris.Errorf("dataset: to date %s is before from date %s", cfg.To, cfg.From)
	}
	return f, nil
}

// Load reads both exports, joins authors onto propositions and applies the
// configured filter. The authors file is optional.
func Load(ctx context.Context, cfg config.DatasetConfig) ([]model.Proposition, Stats, error) {
	filter, err := NewFilter(cfg)
	if err != nil {
		return nil, Stats{}, err
	}

	var raws []rawProposition
	if err := decodeFile(ctx, cfg.PropositionsFile, func(p rawProposition) error {
		raws = append(raws, p)
		return nil
	}); err != nil {
		return nil, Stats{}, err
	}

	authors := make(map[int64][]model.Author)
	if cfg.AuthorsFile != "" {
		if err := decodeFile(ctx, cfg.AuthorsFile, func(a rawAuthor) error {
			if a.IDProposicao == 0 {
				return nil
			}
			authors[a.IDProposicao] = append(authors[a.IDProposicao], a.toModel())
			return nil
		}); err != nil {
			return nil, Stats{}, err
		}
	}

	props, stats := filter.apply(raws, authors)

	zap.L().Info("dataset: loaded",
		zap.String("propositions_file", cfg.PropositionsFile),
		zap.Int("loaded", stats.Loaded),
		zap.Int("kept", stats.Kept),
		zap.Int("wrong_type", stats.WrongType),
		zap.Int("out_of_range", stats.OutOfRange),
		zap.Int("invalid_date", stats.InvalidDate),
		zap.Int("authors", stats.Authors),
	)
	return props, stats, nil
}

// apply selects the raws matching f and attaches each kept proposition's
// authors, ordered by signature order. Authors without a signature order
// go last.
func (f Filter) apply(raws []rawProposition, authors map[int64][]model.Author) ([]model.Proposition, Stats) {
	stats := Stats{Loaded: len(raws)}
	out := make([]model.Proposition, 0, len(raws))

	for _, r := range raws {
		if len(f.Types) > 0 && !f.Types[r.SiglaTipo] {
			stats.WrongType++
			continue
		}
		presented, day, ok := parsePresented(r.DataApresentacao)
		if !ok {
			stats.InvalidDate++
			continue
		}
		if (!f.From.IsZero() && day.Before(f.From)) || (!f.To.IsZero() && day.After(f.To)) {
			stats.OutOfRange++
			continue
		}

		p := model.Proposition{
			ID:          r.ID,
			Type:        r.SiglaTipo,
			Number:      r.Numero,
			Year:        r.Ano,
			Ementa:      strings.TrimSpace(r.Ementa),
			PresentedAt: presented,
			DocumentURL: strings.TrimSpace(r.URLInteiroTeor),
			Authors:     orderedAuthors(authors[r.ID]),
		}
		stats.Authors += len(p.Authors)
		out = append(out, p)
	}

	stats.Kept = len(out)
	return out, stats
}

// parsePresented returns the full presentation timestamp and its calendar
// day. The API emits minute precision ("2025-02-03T10:00"); a bare date is
// also accepted.
func parsePresented(s string) (time.Time, time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, time.Time{}, false
	}
	datePart, _, _ := strings.Cut(s, "T")
	day, err := time.Parse(dateLayout, datePart)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02T15:04:05", time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), day, true
		}
	}
	return day, day, true
}

func orderedAuthors(in []model.Author) []model.Author {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Author, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return signOrder(out[i]) < signOrder(out[j]) })
	// Renumber so (proposition, order) stays unique even when the export
	// repeats or omits ordemAssinatura.
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

func signOrder(a model.Author) int {
	if a.Order <= 0 {
		return int(^uint(0) >> 1)
	}
	return a.Order
}

func (a rawAuthor) toModel() model.Author {
	m := model.Author{
		PropositionID: a.IDProposicao,
		Name:          strings.TrimSpace(a.NomeAutor),
		Party:         a.SiglaPartidoAutor,
		State:         a.SiglaUFAutor,
		Order:         a.OrdemAssinatura,
	}
	if a.IDDeputadoAutor != nil {
		m.DeputyID = *a.IDDeputadoAutor
	}
	return m
}

func decodeFile[T any](ctx context.Context, path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "dataset: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	if err := DecodeRecords(ctx, f, fn); err != nil {
		return eris.Wrapf(err, "dataset: read %s", path)
	}
	return nil
}
