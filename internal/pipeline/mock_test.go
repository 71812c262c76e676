package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/legis-enrich/internal/config"
	"github.com/sells-group/legis-enrich/internal/store"
	"github.com/sells-group/legis-enrich/pkg/anthropic"
)

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// DownloadToFile writes a minimal PDF to path unless the expectation
// returns an error.
func (m *mockFetcher) DownloadToFile(ctx context.Context, url string, path string) (int64, error) {
	args := m.Called(ctx, url, path)
	if err := args.Error(1); err != nil {
		return 0, err
	}
	body := []byte("%PDF-1.4\n% test document\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) ExtractPages(ctx context.Context, pdfPath string) ([]string, error) {
	args := m.Called(ctx, pdfPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func forTool(name string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.ToolChoice == name
	})
}

func toolResponse(name string, input any) *anthropic.MessageResponse {
	raw, _ := json.Marshal(input)
	return &anthropic.MessageResponse{
		ID:         "msg_test",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "tool_use",
		Content:    []anthropic.ContentBlock{{Type: "tool_use", Name: name, Input: raw}},
		Usage:      anthropic.TokenUsage{InputTokens: 200, OutputTokens: 40},
	}
}

// expectAllTools scripts a valid response for every extraction kind and
// for the classifier.
func expectAllTools(ai *mockAnthropicClient) {
	ai.On("CreateMessage", mock.Anything, forTool("record_summary")).Return(toolResponse("record_summary", map[string]any{
		"summary":    "Institui regras para a merenda escolar nas redes públicas.",
		"main_theme": "Educação",
	}), nil)
	ai.On("CreateMessage", mock.Anything, forTool("record_sentiment")).Return(toolResponse("record_sentiment", map[string]any{
		"sentiment": "positive",
	}), nil)
	ai.On("CreateMessage", mock.Anything, forTool("record_ideology")).Return(toolResponse("record_ideology", map[string]any{
		"ideology": "center_left",
	}), nil)
	ai.On("CreateMessage", mock.Anything, forTool("record_named_entities")).Return(toolResponse("record_named_entities", map[string]any{
		"entities": []map[string]string{{"type": "organization", "value": "Ministério da Educação"}},
	}), nil)
	ai.On("CreateMessage", mock.Anything, forTool("record_topics")).Return(toolResponse("record_topics", map[string]any{
		"topics": []map[string]any{{"label": "Educação", "confidence": 0.9}, {"label": "Alimentação Escolar", "confidence": 0.4}},
	}), nil)
}

// --- Fixtures ---

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Anthropic: config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 1024},
		Cleaning: config.CleaningConfig{
			TopFraction:     0.15,
			RepeatThreshold: 0.40,
			MinStampChars:   24,
			BannedPhrases:   config.DefaultBannedPhrases(),
		},
		Retry: config.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2,
		},
		Batch:  config.BatchConfig{MaxWorkers: 2},
		Enrich: config.EnrichConfig{MaxInputChars: 24000, TailChars: 4000, CallTimeout: 5 * time.Second, ClassifyFromSummary: true},
		Fetch:  config.FetchConfig{Workers: 2, DownloadDir: t.TempDir()},
	}
}

// page builds one extracted page: the chamber header, the body lines, and
// a page footer.
func page(n, total int, body ...string) string {
	lines := append([]string{"CÂMARA DOS DEPUTADOS", ""}, body...)
	lines = append(lines, "", "Página "+strconv.Itoa(n)+" de "+strconv.Itoa(total))
	return strings.Join(lines, "\n")
}

const propositionsJSON = `{"dados": [
  {"id": 2480001, "siglaTipo": "PL", "numero": 12, "ano": 2025, "ementa": "Dispõe sobre a merenda escolar.",
   "dataApresentacao": "2025-02-03T10:00", "urlInteiroTeor": "https://www.camara.leg.br/integra/2480001"},
  {"id": 2480002, "siglaTipo": "PEC", "numero": 7, "ano": 2025, "ementa": "Altera o art. 6º.",
   "dataApresentacao": "2025-03-10T15:30", "urlInteiroTeor": "https://www.camara.leg.br/integra/2480002"},
  {"id": 2480003, "siglaTipo": "REQ", "numero": 3, "ano": 2025, "ementa": "Requer informações.",
   "dataApresentacao": "2025-03-11T09:00"}
]}`

const authorsJSON = `{"dados": [
  {"idProposicao": 2480001, "idDeputadoAutor": 204554, "nomeAutor": "Maria Souza", "siglaPartidoAutor": "PT", "siglaUFAutor": "BA", "ordemAssinatura": 1},
  {"idProposicao": 2480002, "idDeputadoAutor": 204555, "nomeAutor": "João Lima", "siglaPartidoAutor": "PSD", "siglaUFAutor": "MG", "ordemAssinatura": 1}
]}`

func writeDataset(t *testing.T, cfg *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg.Dataset = config.DatasetConfig{
		PropositionsFile: filepath.Join(dir, "proposicoes-2025.json"),
		AuthorsFile:      filepath.Join(dir, "proposicoesAutores-2025.json"),
		Types:            []string{"PL", "PEC", "PLP"},
		From:             "2025-02-02",
		To:               "2025-07-17",
	}
	require.NoError(t, os.WriteFile(cfg.Dataset.PropositionsFile, []byte(propositionsJSON), 0o644))
	require.NoError(t, os.WriteFile(cfg.Dataset.AuthorsFile, []byte(authorsJSON), 0o644))
}
