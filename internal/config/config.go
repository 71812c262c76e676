package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/legis-enrich/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Cleaning  CleaningConfig  `yaml:"cleaning" mapstructure:"cleaning"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy" mapstructure:"taxonomy"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Dataset   DatasetConfig   `yaml:"dataset" mapstructure:"dataset"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
	LockFile    string `yaml:"lock_file" mapstructure:"lock_file"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	// Pricing overrides the built-in per-model token rates.
	Pricing map[string]cost.ModelRate `yaml:"pricing" mapstructure:"pricing"`
}

// CleaningConfig tunes boilerplate detection and text cleaning.
type CleaningConfig struct {
	TopFraction     float64  `yaml:"top_fraction" mapstructure:"top_fraction"`
	RepeatThreshold float64  `yaml:"repeat_threshold" mapstructure:"repeat_threshold"`
	MinStampChars   int      `yaml:"min_stamp_chars" mapstructure:"min_stamp_chars"`
	BannedPhrases   []string `yaml:"banned_phrases" mapstructure:"banned_phrases"`
	CutAnnex        bool     `yaml:"cut_annex" mapstructure:"cut_annex"`
}

// RetryConfig configures LLM call retries.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BatchConfig configures the worker pool and request throttling.
type BatchConfig struct {
	MaxWorkers        int     `yaml:"max_workers" mapstructure:"max_workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// EnrichConfig configures extraction requests.
type EnrichConfig struct {
	MaxInputChars       int           `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	TailChars           int           `yaml:"tail_chars" mapstructure:"tail_chars"`
	CallTimeout         time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	Force               bool          `yaml:"force" mapstructure:"force"`
	ClassifyFromSummary bool          `yaml:"classify_from_summary" mapstructure:"classify_from_summary"`
}

// TaxonomyConfig defines the fixed topic taxonomy.
type TaxonomyConfig struct {
	File              string   `yaml:"file" mapstructure:"file"`
	Labels            []string `yaml:"labels" mapstructure:"labels"`
	UnclassifiedLabel string   `yaml:"unclassified_label" mapstructure:"unclassified_label"`
	MaxTopics         int      `yaml:"max_topics" mapstructure:"max_topics"`
}

// FetchConfig configures PDF downloads.
type FetchConfig struct {
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Workers           int           `yaml:"workers" mapstructure:"workers"`
	DownloadDir       string        `yaml:"download_dir" mapstructure:"download_dir"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// DatasetConfig configures the open-data import.
type DatasetConfig struct {
	PropositionsFile string   `yaml:"propositions_file" mapstructure:"propositions_file"`
	AuthorsFile      string   `yaml:"authors_file" mapstructure:"authors_file"`
	Types            []string `yaml:"types" mapstructure:"types"`
	From             string   `yaml:"from" mapstructure:"from"`
	To               string   `yaml:"to" mapstructure:"to"`
}

// ServerConfig configures the read API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEGIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "legis.db")
	v.SetDefault("store.lock_file", ".legis.lock")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("cleaning.top_fraction", 0.15)
	v.SetDefault("cleaning.repeat_threshold", 0.40)
	v.SetDefault("cleaning.min_stamp_chars", 24)
	v.SetDefault("cleaning.banned_phrases", DefaultBannedPhrases())
	v.SetDefault("cleaning.cut_annex", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", "1s")
	v.SetDefault("retry.max_backoff", "30s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("batch.max_workers", 4)
	v.SetDefault("batch.requests_per_second", 2.0)
	v.SetDefault("batch.burst", 4)
	v.SetDefault("enrich.max_input_chars", 24000)
	v.SetDefault("enrich.tail_chars", 4000)
	v.SetDefault("enrich.call_timeout", "90s")
	v.SetDefault("enrich.classify_from_summary", true)
	v.SetDefault("taxonomy.unclassified_label", "unclassified")
	v.SetDefault("taxonomy.max_topics", 3)
	v.SetDefault("fetch.user_agent", "legis-enrich/1.0")
	v.SetDefault("fetch.timeout", "60s")
	v.SetDefault("fetch.requests_per_second", 4.0)
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.download_dir", os.TempDir())
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("dataset.types", []string{"PL", "PEC", "PLP"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// DefaultBannedPhrases lists institutional phrases that mark a line as
// boilerplate regardless of how often it repeats.
func DefaultBannedPhrases() []string {
	return []string{
		"assinado eletronicamente",
		"para verificar a assinatura",
		"@camara.leg.br",
		"praça dos três poderes",
		"cep 70160",
	}
}

// Validate checks the configuration for the given command mode. Modes:
// "import", "clean", "enrich", "classify", "run", "serve", "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "import", "clean", "enrich", "classify", "run", "serve", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "import":
		if c.Dataset.PropositionsFile == "" {
			errs = append(errs, "dataset.propositions_file is required")
		}
	case "clean":
		errs = append(errs, c.validateCleaning()...)
		if c.OCR.Provider == "mistral" && c.OCR.MistralKey == "" {
			errs = append(errs, "ocr.mistral_api_key is required for the mistral provider")
		}
	case "enrich", "classify":
		errs = append(errs, c.validateEnrich()...)
	case "run":
		errs = append(errs, c.validateCleaning()...)
		errs = append(errs, c.validateEnrich()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCleaning() []string {
	var errs []string
	if c.Cleaning.TopFraction <= 0 || c.Cleaning.TopFraction > 0.5 {
		errs = append(errs, "cleaning.top_fraction must be in (0, 0.5]")
	}
	if c.Cleaning.RepeatThreshold <= 0 || c.Cleaning.RepeatThreshold > 1 {
		errs = append(errs, "cleaning.repeat_threshold must be in (0, 1]")
	}
	if c.Cleaning.MinStampChars < 0 {
		errs = append(errs, "cleaning.min_stamp_chars must be >= 0")
	}
	return errs
}

func (c *Config) validateEnrich() []string {
	var errs []string
	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if c.Batch.MaxWorkers < 1 || c.Batch.MaxWorkers > 64 {
		errs = append(errs, "batch.max_workers must be between 1 and 64")
	}
	if c.Enrich.MaxInputChars > 0 && c.Enrich.TailChars >= c.Enrich.MaxInputChars {
		errs = append(errs, "enrich.tail_chars must be smaller than enrich.max_input_chars")
	}
	if c.Taxonomy.MaxTopics < 1 {
		errs = append(errs, "taxonomy.max_topics must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger. Format "auto" selects the
// console encoder when stderr is a terminal.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if resolveFormat(cfg.Format, os.Stderr.Fd()) == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

func resolveFormat(format string, fd uintptr) string {
	if format != "auto" {
		return format
	}
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return "console"
	}
	return "json"
}
