package jobs

import (
	"encoding/json"
	"time"
)

// Stats holds cumulative queue counters.
type Stats struct {
	Enqueued      int64         `json:"enqueued"`
	Completed     int64         `json:"completed"`
	Failed        int64         `json:"failed"`
	Retried       int64         `json:"retried"`
	Dropped       int64         `json:"dropped"`
	Executions    int64         `json:"executions"`
	TotalDuration time.Duration `json:"-"`
	MinDuration   time.Duration `json:"-"`
	MaxDuration   time.Duration `json:"-"`
}

func (s *Stats) observe(d time.Duration) {
	s.Executions++
	s.TotalDuration += d
	if s.MinDuration == 0 || d < s.MinDuration {
		s.MinDuration = d
	}
	s.MaxDuration = max(s.MaxDuration, d)
}

// StatsSnapshot is a point-in-time copy of the queue state.
type StatsSnapshot struct {
	Stats
	Pending int  `json:"pending"`
	Running int  `json:"running"`
	Workers int  `json:"workers"`
	Stopped bool `json:"stopped"`
}

// AverageDuration returns the mean handler execution time.
func (s *StatsSnapshot) AverageDuration() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Executions)
}

// ToJSON converts the snapshot to a JSON string with pretty formatting
func (s *StatsSnapshot) ToJSON() (string, error) {
	return s.toJSON(true)
}

// ToJSONCompact converts the snapshot to a compact JSON string
func (s *StatsSnapshot) ToJSONCompact() (string, error) {
	return s.toJSON(false)
}

func (s *StatsSnapshot) toJSON(prettyPrint bool) (string, error) {
	doc := s.Document()
	var (
		data []byte
		err  error
	)
	if prettyPrint {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Document returns the snapshot in its exported JSON shape.
func (s *StatsSnapshot) Document() map[string]any {
	return map[string]any{
		"queue": map[string]any{
			"enqueued":  s.Enqueued,
			"completed": s.Completed,
			"failed":    s.Failed,
			"retried":   s.Retried,
			"dropped":   s.Dropped,
			"pending":   s.Pending,
			"running":   s.Running,
			"workers":   s.Workers,
			"stopped":   s.Stopped,
		},
		"performance": map[string]any{
			"executions": s.Executions,
			"avgMs":      s.AverageDuration().Milliseconds(),
			"minMs":      s.MinDuration.Milliseconds(),
			"maxMs":      s.MaxDuration.Milliseconds(),
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}
}
