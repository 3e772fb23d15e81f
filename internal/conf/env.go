// env.go - environment variable and .env configuration
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tphakala/entityindex/internal/errors"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.datadir", "ENTITYINDEX_DATA_DIR", nil},
		{"debug", "ENTITYINDEX_DEBUG", validateEnvBool},

		// Provider credentials; OPENAI_* names are accepted for compatibility with other tools
		{"provider.apikey", "OPENAI_API_KEY", nil},
		{"provider.baseurl", "OPENAI_BASE_URL", validateEnvURL},
		{"provider.visionmodel", "ENTITYINDEX_VISION_MODEL", nil},
		{"provider.embeddingmodel", "ENTITYINDEX_EMBEDDING_MODEL", nil},
		{"provider.imageembeddingbaseurl", "ENTITYINDEX_IMAGE_EMBEDDING_URL", validateEnvURL},

		{"sampling.intervalsec", "ENTITYINDEX_INTERVAL_SEC", validateEnvPositiveInt},
		{"sampling.ffmpegpath", "ENTITYINDEX_FFMPEG_PATH", nil},
		{"sampling.ffprobepath", "ENTITYINDEX_FFPROBE_PATH", nil},

		{"detection.object.modelpath", "ENTITYINDEX_OBJECT_MODEL", nil},
		{"detection.object.labelpath", "ENTITYINDEX_OBJECT_LABELS", nil},
		{"detection.object.minconfidence", "ENTITYINDEX_OBJECT_MIN_CONFIDENCE", validateEnvUnitFloat},
		{"detection.openvocab.threshold", "ENTITYINDEX_OPEN_VOCAB_THRESHOLD", validateEnvUnitFloat},
		{"detection.ocr.tesseractpath", "ENTITYINDEX_TESSERACT_PATH", nil},

		{"labelindex.backend", "ENTITYINDEX_LABEL_INDEX_BACKEND", nil},
		{"labelindex.postgres.dsn", "ENTITYINDEX_PGVECTOR_DSN", nil},

		{"database.sqlite.path", "ENTITYINDEX_SQLITE_PATH", nil},
		{"database.mysql.password", "ENTITYINDEX_MYSQL_PASSWORD", nil},

		{"queue.workers", "ENTITYINDEX_WORKERS", validateEnvPositiveInt},
		{"webserver.listen", "ENTITYINDEX_LISTEN", nil},
		{"sentry.dsn", "ENTITYINDEX_SENTRY_DSN", nil},
	}
}

// loadDotEnv loads a .env file from the working directory if one exists.
// Variables already present in the environment win.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "load-dotenv").
			Build()
	}
	return nil
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - ")).
			Category(errors.CategoryConfiguration).
			Build()
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}

func validateEnvUnitFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1, got %g", f)
	}
	return nil
}

func validateEnvURL(value string) error {
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return fmt.Errorf("must start with http:// or https://")
	}
	return nil
}
