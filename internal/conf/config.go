// config.go: settings struct for entityindex and functions to load it.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains general settings
type MainSettings struct {
	Name    string // instance name, used in logs and telemetry
	DataDir string // root directory for videos, frames, reports and the label index
}

// SentrySettings controls optional error telemetry
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// SmartSampling drops visually redundant frames
type SmartSampling struct {
	Enabled   bool
	Threshold float64 // normalized mean absolute difference, 0..1
	MinKeep   int     // safety valve: fewer kept frames returns the original list
}

// SamplingSettings controls frame extraction
type SamplingSettings struct {
	IntervalSec int    // default seconds between sampled frames
	FfmpegPath  string // path to ffmpeg binary
	FfprobePath string // path to ffprobe binary
	Quality     int    // jpeg quality passed as -q:v (2 best .. 31 worst)
	Timeout     time.Duration
	Annotate    bool // write annotated copies of each frame
	Smart       SmartSampling
}

// ObjectDetectorSettings configures the closed-set object detector
type ObjectDetectorSettings struct {
	Enabled       bool
	Required      bool    // initialization failure fails the job
	ModelPath     string  // tflite SSD model
	LabelPath     string  // one label per line, model class order
	Threads       int     // interpreter threads, 0 = runtime.NumCPU()
	MinConfidence float64 // detections below this are dropped
	Every         int     // run on every Nth frame
}

// OpenVocabSettings configures the zero-shot image/text similarity detector
type OpenVocabSettings struct {
	Enabled   bool
	Required  bool
	Labels    []string // candidate phrases
	Prompt    string   // fmt template, e.g. "a photo of %s"
	Threshold float64  // cosine similarity threshold
	Every     int
}

// DiscoverySettings configures caption-derived phrase discovery
type DiscoverySettings struct {
	Enabled    bool
	Required   bool
	Prompt     string   // caption instruction sent to the vision model
	MaxPhrases int      // phrases kept per frame
	MinScore   float64  // minimum caption score
	Allowlist  []string // when set, only these canonical phrases are kept
	RateLimit  float64  // caption requests per second, 0 = unlimited
	Every      int
}

// OCRSettings configures the text-in-frame detector
type OCRSettings struct {
	Enabled       bool
	Required      bool
	TesseractPath string
	Language      string
	MinConfidence float64 // tesseract confidence, 0..100
	Every         int
}

// VerifySettings configures the corroborating similarity detector
type VerifySettings struct {
	Enabled   bool
	Threshold float64
	Every     int
}

// DetectionSettings groups detector configuration
type DetectionSettings struct {
	SynonymsPath string // optional YAML file extending the canonical tables
	Object       ObjectDetectorSettings
	OpenVocab    OpenVocabSettings
	Discovery    DiscoverySettings
	OCR          OCRSettings
	Verify       VerifySettings
}

// AggregationSettings controls temporal denoising and confidence fusion
type AggregationSettings struct {
	MinRun          int     // minimum consecutive frames for object, ocr and verify sources
	OpenVocabMinRun int     // minimum consecutive frames for open_vocab
	DiscoveryMinRun int     // minimum consecutive frames for discovery
	MinScore        float64 // entities below this confidence are dropped
}

// ProviderSettings configures the OpenAI compatible API used for captions,
// embeddings and transcription
type ProviderSettings struct {
	APIKey             string // may reference the environment, e.g. ${OPENAI_API_KEY}
	APIKeyFile         string // read the key from a mounted secret file instead
	BaseURL            string
	VisionModel        string
	EmbeddingModel     string
	TranscriptionModel string
	Timeout            time.Duration

	// Image/text embeddings for open_vocab and verify come from a CLIP
	// style model behind an OpenAI compatible /embeddings endpoint that
	// accepts image data URIs. Empty ImageEmbeddingBaseURL uses BaseURL.
	ImageEmbeddingModel   string
	ImageEmbeddingBaseURL string
}

// TranscriptionSettings controls the audio transcript artifact
type TranscriptionSettings struct {
	Enabled  bool
	Language string // empty lets the model detect the language
}

// LabelIndexSettings controls the label embedding index
type LabelIndexSettings struct {
	Enabled    bool
	Backend    string // "file" or "pgvector"
	Similarity float64
	CacheTTL   time.Duration
	Postgres   struct {
		DSN        string
		DSNFile    string
		Table      string
		Dimensions int
	}
}

// DatabaseSettings selects the job store backend
type DatabaseSettings struct {
	SQLite struct {
		Enabled bool
		Path    string
	}
	MySQL struct {
		Enabled  bool
		Host     string
		Port     string
		Username string
		Password     string
		PasswordFile string
		Database     string
	}
	SlowQuery time.Duration
}

// QueueSettings controls background job execution
type QueueSettings struct {
	Workers         int
	MaxPending      int
	MaxRetries      int
	RetryDelay      time.Duration
	ShutdownTimeout time.Duration
}

// WebServerSettings contains settings for the HTTP API
type WebServerSettings struct {
	Enabled     bool
	Listen      string
	MaxUploadMB int
	Metrics     bool // expose /metrics
}

// Settings contains all configuration options for entityindex.
type Settings struct {
	Debug bool

	Main          MainSettings
	Logging       logger.LoggingConfig
	Sentry        SentrySettings
	Sampling      SamplingSettings
	Detection     DetectionSettings
	Aggregation   AggregationSettings
	Provider      ProviderSettings
	Transcription TranscriptionSettings
	LabelIndex    LabelIndexSettings
	Database      DatabaseSettings
	Queue         QueueSettings
	WebServer     WebServerSettings

	ConfigFile string `yaml:"-"` // path the settings were read from, runtime value
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, .env file and environment variables.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}
	settings.ConfigFile = viper.ConfigFileUsed()

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// resolveSecrets replaces credentials with the contents of their secret
// files and expands environment references in them.
func resolveSecrets(s *Settings) error {
	for _, sec := range []struct {
		key   string
		file  string
		value *string
	}{
		{"provider.apikey", s.Provider.APIKeyFile, &s.Provider.APIKey},
		{"database.mysql.password", s.Database.MySQL.PasswordFile, &s.Database.MySQL.Password},
		{"labelindex.postgres.dsn", s.LabelIndex.Postgres.DSNFile, &s.LabelIndex.Postgres.DSN},
	} {
		resolved, err := secrets.Resolve(sec.file, *sec.value)
		if err != nil {
			return errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("setting", sec.key).
				Build()
		}
		*sec.value = resolved
	}
	return nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config to the user config directory
func createDefaultConfig(configPaths []string) error {
	configPath := filepath.Join(configPaths[1], "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-embedded-config").
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// DefaultConfigYAML returns the embedded default configuration.
func DefaultConfigYAML() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Error loading settings: %v\n", err)
				os.Exit(1)
			}
		}
	})
	return GetSettings()
}

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "entityindex"),
		"/etc/entityindex",
	}, nil
}
