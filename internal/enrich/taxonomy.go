package enrich

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/legis-enrich/internal/clean"
	"github.com/sells-group/legis-enrich/internal/config"
)

// DefaultUnclassified is the sentinel label assigned when no taxonomy label
// survives validation.
const DefaultUnclassified = "unclassified"

// DefaultTopics is the built-in topic taxonomy.
func DefaultTopics() []string {
	return []string{
		"Administração Pública", "Direitos Humanos e Minorias", "Segurança Pública",
		"Defesa Nacional", "Finanças e Orçamento", "Tributação e Reforma Tributária",
		"Saúde Pública", "Educação", "Previdência Social", "Assistência Social",
		"Trabalho e Emprego", "Desenvolvimento Regional", "Infraestrutura e Logística",
		"Transporte", "Energia e Recursos Naturais", "Meio Ambiente e Sustentabilidade",
		"Mudanças Climáticas", "Agricultura, Pecuária e Extrativismo",
		"Ciência, Tecnologia e Inovação", "Comunicações",
		"Proteção de Dados e Segurança Digital", "Regulação de Inteligência Artificial",
		"Cultura", "Esporte", "Habitação", "Urbanismo",
		"Justiça e Sistema Judiciário", "Combate à Violência Doméstica",
		"Direitos das Pessoas com Deficiência",
		"Políticas para Povos Indígenas e Comunidades Tradicionais",
	}
}

// Taxonomy is the fixed, ordered set of valid topic labels.
type Taxonomy struct {
	labels       []string
	exact        map[string]bool
	folded       map[string]string
	unclassified string
	maxTopics    int
}

// NewTaxonomy validates labels and builds a Taxonomy. Labels must be unique
// under case and accent folding and must not collide with the sentinel.
func NewTaxonomy(labels []string, unclassified string, maxTopics int) (*Taxonomy, error) {
	if unclassified == "" {
		unclassified = DefaultUnclassified
	}
	if maxTopics <= 0 {
		maxTopics = 3
	}
	t := &Taxonomy{
		exact:        make(map[string]bool, len(labels)),
		folded:       make(map[string]string, len(labels)),
		unclassified: unclassified,
		maxTopics:    maxTopics,
	}
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		f := clean.Fold(l)
		if prev, dup := t.folded[f]; dup {
			return nil, eris.Errorf("enrich: taxonomy labels %q and %q are the same label", prev, l)
		}
		if f == clean.Fold(unclassified) {
			return nil, eris.Errorf("enrich: taxonomy label %q collides with the unclassified label", l)
		}
		t.labels = append(t.labels, l)
		t.exact[l] = true
		t.folded[f] = l
	}
	if len(t.labels) == 0 {
		return nil, eris.New("enrich: taxonomy has no labels")
	}
	return t, nil
}

// taxonomyFile is the YAML shape of a taxonomy file. A bare list of labels
// is accepted too.
type taxonomyFile struct {
	Labels []string `yaml:"labels"`
}

// LoadTaxonomy builds the taxonomy from cfg: the file when set, else the
// configured labels, else DefaultTopics.
func LoadTaxonomy(cfg config.TaxonomyConfig) (*Taxonomy, error) {
	labels := cfg.Labels
	if cfg.File != "" {
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, eris.Wrapf(err, "enrich: read taxonomy file %s", cfg.File)
		}
		labels, err = parseTaxonomy(data)
		if err != nil {
			return nil, eris.Wrapf(err, "enrich: parse taxonomy file %s", cfg.File)
		}
	}
	if len(labels) == 0 {
		labels = DefaultTopics()
	}
	return NewTaxonomy(labels, cfg.UnclassifiedLabel, cfg.MaxTopics)
}

func parseTaxonomy(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var f taxonomyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Labels, nil
}

// Labels returns the labels in taxonomy order.
func (t *Taxonomy) Labels() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

// Unclassified returns the sentinel label.
func (t *Taxonomy) Unclassified() string { return t.unclassified }

// MaxTopics returns the maximum number of labels kept per proposition.
func (t *Taxonomy) MaxTopics() int { return t.maxTopics }

// Match resolves a label returned by the model to its canonical spelling,
// trying an exact match before a case and accent insensitive one.
func (t *Taxonomy) Match(label string) (string, bool) {
	label = strings.TrimSpace(label)
	if t.exact[label] {
		return label, true
	}
	canonical, ok := t.folded[clean.Fold(label)]
	return canonical, ok
}
