// conf/validate.go

package conf

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateSamplingSettings,
		validateDetectionSettings,
		validateAggregationSettings,
		validateLabelIndexSettings,
		validateDatabaseSettings,
		validateQueueSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateSamplingSettings(s *Settings) error {
	sampling := &s.Sampling
	if sampling.IntervalSec < 1 {
		return fmt.Errorf("sampling.intervalsec must be at least 1, got %d", sampling.IntervalSec)
	}
	if sampling.Quality < 2 || sampling.Quality > 31 {
		return fmt.Errorf("sampling.quality must be between 2 and 31, got %d", sampling.Quality)
	}
	if sampling.Smart.Enabled {
		if sampling.Smart.Threshold < 0 || sampling.Smart.Threshold > 1 {
			return fmt.Errorf("sampling.smart.threshold must be between 0 and 1, got %g", sampling.Smart.Threshold)
		}
		if sampling.Smart.MinKeep < 0 {
			return fmt.Errorf("sampling.smart.minkeep must not be negative")
		}
	}
	return nil
}

func validateDetectionSettings(s *Settings) error {
	d := &s.Detection
	if !d.Object.Enabled && !d.OpenVocab.Enabled && !d.Discovery.Enabled && !d.OCR.Enabled {
		return fmt.Errorf("at least one primary detector must be enabled")
	}

	var problems []string
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be between 0 and 1, got %g", name, v))
		}
	}
	every := func(name string, v int) {
		if v < 1 {
			problems = append(problems, fmt.Sprintf("%s must be at least 1, got %d", name, v))
		}
	}

	if d.Object.Enabled {
		unit("detection.object.minconfidence", d.Object.MinConfidence)
		every("detection.object.every", d.Object.Every)
		if d.Object.ModelPath == "" {
			problems = append(problems, "detection.object.modelpath is required")
		}
	}
	if d.OpenVocab.Enabled {
		unit("detection.openvocab.threshold", d.OpenVocab.Threshold)
		every("detection.openvocab.every", d.OpenVocab.Every)
		if len(d.OpenVocab.Labels) == 0 {
			problems = append(problems, "detection.openvocab.labels must not be empty")
		}
		if !strings.Contains(d.OpenVocab.Prompt, "%s") {
			problems = append(problems, "detection.openvocab.prompt must contain %s")
		}
	}
	if d.Discovery.Enabled {
		unit("detection.discovery.minscore", d.Discovery.MinScore)
		every("detection.discovery.every", d.Discovery.Every)
		if d.Discovery.MaxPhrases < 1 {
			problems = append(problems, "detection.discovery.maxphrases must be at least 1")
		}
	}
	if d.OCR.Enabled {
		every("detection.ocr.every", d.OCR.Every)
		if d.OCR.MinConfidence < 0 || d.OCR.MinConfidence > 100 {
			problems = append(problems, fmt.Sprintf("detection.ocr.minconfidence must be between 0 and 100, got %g", d.OCR.MinConfidence))
		}
	}
	if d.Verify.Enabled {
		unit("detection.verify.threshold", d.Verify.Threshold)
		every("detection.verify.every", d.Verify.Every)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func validateAggregationSettings(s *Settings) error {
	a := &s.Aggregation
	if a.MinRun < 1 || a.OpenVocabMinRun < 1 || a.DiscoveryMinRun < 1 {
		return fmt.Errorf("aggregation min runs must be at least 1")
	}
	if a.MinScore < 0 || a.MinScore > 1 {
		return fmt.Errorf("aggregation.minscore must be between 0 and 1, got %g", a.MinScore)
	}
	return nil
}

func validateLabelIndexSettings(s *Settings) error {
	li := &s.LabelIndex
	if !li.Enabled {
		return nil
	}
	if !slices.Contains([]string{"file", "pgvector"}, li.Backend) {
		return fmt.Errorf("labelindex.backend must be file or pgvector, got %q", li.Backend)
	}
	if li.Backend == "pgvector" {
		if li.Postgres.DSN == "" {
			return fmt.Errorf("labelindex.postgres.dsn is required for the pgvector backend")
		}
		if li.Postgres.Dimensions < 1 {
			return fmt.Errorf("labelindex.postgres.dimensions must be positive")
		}
	}
	if li.Similarity < 0 || li.Similarity > 1 {
		return fmt.Errorf("labelindex.similarity must be between 0 and 1, got %g", li.Similarity)
	}
	return nil
}

func validateDatabaseSettings(s *Settings) error {
	db := &s.Database
	if db.SQLite.Enabled && db.MySQL.Enabled {
		return fmt.Errorf("only one of database.sqlite and database.mysql can be enabled")
	}
	if !db.SQLite.Enabled && !db.MySQL.Enabled {
		return fmt.Errorf("a database backend must be enabled")
	}
	if db.SQLite.Enabled && db.SQLite.Path == "" {
		return fmt.Errorf("database.sqlite.path is required")
	}
	return nil
}

func validateQueueSettings(s *Settings) error {
	q := &s.Queue
	if q.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1, got %d", q.Workers)
	}
	if q.MaxPending < 1 {
		return fmt.Errorf("queue.maxpending must be at least 1, got %d", q.MaxPending)
	}
	if q.MaxRetries < 0 {
		return fmt.Errorf("queue.maxretries must not be negative")
	}
	return nil
}
