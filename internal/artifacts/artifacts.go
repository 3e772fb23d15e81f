// Package artifacts owns the on-disk layout of uploaded videos, sampled
// frames, reports and the label index.
package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tphakala/entityindex/internal/errors"
)

// File names inside the per-video directories.
const (
	ReportFile      = "report.json"
	FramesIndexFile = "frames.json"
	TranscriptFile  = "transcript.json"
	LabelIndexFile  = "labels.json"
)

// Layout resolves artifact paths under a data directory:
//
//	<root>/videos/<id>/            uploaded video and voice track
//	<root>/frames/<id>/            sampled frames, annotated copies, frames.json
//	<root>/reports/<id>/           report.json, transcript.json
//	<root>/index/labels.json       label embedding index
type Layout struct {
	root string
}

// New returns the layout rooted at dataDir.
func New(dataDir string) *Layout {
	return &Layout{root: dataDir}
}

// Root returns the data directory.
func (l *Layout) Root() string { return l.root }

func (l *Layout) VideoDir(id string) string   { return filepath.Join(l.root, "videos", id) }
func (l *Layout) FramesDir(id string) string  { return filepath.Join(l.root, "frames", id) }
func (l *Layout) ReportsDir(id string) string { return filepath.Join(l.root, "reports", id) }

// AnnotatedDir holds annotated frame copies, named like the originals.
func (l *Layout) AnnotatedDir(id string) string {
	return filepath.Join(l.FramesDir(id), "annotated")
}

func (l *Layout) ReportPath(id string) string {
	return filepath.Join(l.ReportsDir(id), ReportFile)
}

func (l *Layout) FramesIndexPath(id string) string {
	return filepath.Join(l.FramesDir(id), FramesIndexFile)
}

func (l *Layout) TranscriptPath(id string) string {
	return filepath.Join(l.ReportsDir(id), TranscriptFile)
}

// IndexPath is the file backing the label index.
func (l *Layout) IndexPath() string {
	return filepath.Join(l.root, "index", LabelIndexFile)
}

// Ensure creates the top-level directories.
func (l *Layout) Ensure() error {
	for _, dir := range []string{"videos", "frames", "reports", "index"} {
		if err := os.MkdirAll(filepath.Join(l.root, dir), 0o755); err != nil {
			return errors.New(err).
				Category(errors.CategoryFileIO).
				Context("path", filepath.Join(l.root, dir)).
				Build()
		}
	}
	return nil
}

// Remove deletes every artifact of a video. Missing directories are not
// an error.
func (l *Layout) Remove(id string) error {
	if id == "" || filepath.Base(id) != id {
		return errors.Newf("invalid video id %q", id).
			Category(errors.CategoryValidation).
			Build()
	}
	var errs []error
	for _, dir := range []string{l.VideoDir(id), l.FramesDir(id), l.ReportsDir(id)} {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("video_id", id).
			Build()
	}
	return nil
}

// WriteJSON writes v as indented JSON. The file is replaced atomically so
// readers never see a partial document.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryProcessing).
			Context("path", path).
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", path).Build()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	return nil
}

// ReadJSON decodes the JSON file at path into v. A missing file returns an
// error matching os.ErrNotExist.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return errors.FileError(err, path, 0)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	return nil
}
