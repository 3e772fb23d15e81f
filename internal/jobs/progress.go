package jobs

import (
	"context"
	"math"
	"sync"

	"github.com/tphakala/entityindex/internal/datastore"
)

// Updater is the slice of the job store the pipeline writes through.
type Updater interface {
	Update(ctx context.Context, id string, fields datastore.Fields) error
}

// progressReporter writes job state and never lets progress move backwards.
type progressReporter struct {
	store Updater
	id    string

	mu   sync.Mutex
	last float64
}

func newProgressReporter(store Updater, id string) *progressReporter {
	return &progressReporter{store: store, id: id, last: -1}
}

// set writes fields plus status, stage and progress. A progress value below
// the last written one is dropped from the update; the other fields are
// still written.
func (p *progressReporter) set(ctx context.Context, status datastore.Status, stage datastore.Stage, progress float64, extra datastore.Fields) error {
	fields := datastore.Fields{
		datastore.ColStatus: status,
		datastore.ColStage:  stage,
	}
	for k, v := range extra {
		fields[k] = v
	}

	progress = math.Round(progress*10000) / 10000
	p.mu.Lock()
	if progress >= p.last {
		fields[datastore.ColProgress] = progress
		p.last = progress
	}
	p.mu.Unlock()

	return p.store.Update(ctx, p.id, fields)
}

// detectionProgress maps frame i of n onto the 20..80 band.
func detectionProgress(i, n int) float64 {
	if n <= 0 {
		return progressDetecting
	}
	return progressDetecting + 60*float64(i+1)/float64(n)
}

// Milestones written as the pipeline moves through its stages.
const (
	progressExtracting   = 5.0
	progressTranscribing = 15.0
	progressDetecting    = 20.0
	progressAggregating  = 85.0
	progressIndexing     = 92.0
	progressDone         = 100.0

	progressEvery = 5 // frames between detection progress writes
)
