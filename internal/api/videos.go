package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/entityindex/internal/artifacts"
	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/jobs"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/transcript"
)

const (
	maxIntervalSec       = 3600
	defaultFramePageSize = 24
	maxFramePageSize     = 500
)

// VideoSummary is a video in listings.
type VideoSummary struct {
	VideoID        string           `json:"video_id"`
	Filename       string           `json:"filename"`
	Status         datastore.Status `json:"status"`
	CurrentStage   datastore.Stage  `json:"current_stage"`
	Progress       float64          `json:"progress"`
	DurationSec    float64          `json:"duration_sec"`
	IntervalSec    int              `json:"interval_sec"`
	FramesAnalyzed int              `json:"frames_analyzed"`
	UniqueEntities int              `json:"unique_entities"`
	CreatedAt      time.Time        `json:"created_at"`
}

// VideoDetail adds the report, when written, to the summary.
type VideoDetail struct {
	VideoSummary
	ReportAvailable bool            `json:"report_available"`
	Report          json.RawMessage `json:"report"`
	Error           string          `json:"error,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// VideoStatus is the polling view of a job.
type VideoStatus struct {
	VideoID      string           `json:"video_id"`
	Status       datastore.Status `json:"status"`
	Progress     float64          `json:"progress"`
	CurrentStage datastore.Stage  `json:"current_stage"`
	Error        string           `json:"error,omitempty"`
}

// UploadResponse acknowledges an accepted upload.
type UploadResponse struct {
	VideoID     string           `json:"video_id"`
	Status      datastore.Status `json:"status"`
	IntervalSec int              `json:"interval_sec"`
}

// VideoList is one page of videos.
type VideoList struct {
	Items    []VideoSummary `json:"items"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// FrameView is a frames.json entry with URLs to fetch the images.
type FrameView struct {
	artifacts.FrameEntry
	URL          string `json:"url"`
	AnnotatedURL string `json:"annotated_url,omitempty"`
}

// FramesPage is one page of frames.
type FramesPage struct {
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    int         `json:"total"`
	Frames   []FrameView `json:"frames"`
}

// TranscriptResponse is the transcript, optionally with search hits.
type TranscriptResponse struct {
	*transcript.Transcript
	Query   string             `json:"query,omitempty"`
	Hits    int                `json:"hits,omitempty"`
	Matches []transcript.Match `json:"matches,omitempty"`
}

func summarize(v *datastore.Video) VideoSummary {
	return VideoSummary{
		VideoID:        v.ID,
		Filename:       v.Filename,
		Status:         v.Status,
		CurrentStage:   v.CurrentStage,
		Progress:       v.Progress,
		DurationSec:    v.DurationSec,
		IntervalSec:    v.IntervalSec,
		FramesAnalyzed: v.FramesAnalyzed,
		UniqueEntities: v.UniqueEntities,
		CreatedAt:      v.CreatedAt,
	}
}

// UploadVideo stores the uploaded video and optional voice track, creates
// the job row and enqueues it.
func (s *Server) UploadVideo(c echo.Context) error {
	videoFile, err := c.FormFile("video_file")
	if err != nil {
		return s.HandleError(c, err, "video_file is required", http.StatusBadRequest)
	}

	interval := s.settings.Sampling.IntervalSec
	if raw := c.FormValue("interval_sec"); raw != "" {
		interval, err = strconv.Atoi(raw)
		if err != nil || interval < 1 || interval > maxIntervalSec {
			return s.HandleError(c, err,
				fmt.Sprintf("interval_sec must be an integer between 1 and %d", maxIntervalSec),
				http.StatusBadRequest)
		}
	}

	filename, ok := safeName(videoFile.Filename)
	if !ok {
		return s.HandleError(c, nil, "invalid video file name", http.StatusBadRequest)
	}

	id := uuid.NewString()
	dir := s.layout.VideoDir(id)
	videoPath := filepath.Join(dir, filename)
	if err := saveUpload(videoFile, videoPath); err != nil {
		return s.HandleError(c, err, "failed to store video", http.StatusInternalServerError)
	}

	var voicePath string
	if voiceFile, err := c.FormFile("voice_file"); err == nil {
		name, ok := safeName(voiceFile.Filename)
		if !ok || name == filename {
			s.removeArtifacts(id)
			return s.HandleError(c, nil, "invalid voice file name", http.StatusBadRequest)
		}
		voicePath = filepath.Join(dir, name)
		if err := saveUpload(voiceFile, voicePath); err != nil {
			s.removeArtifacts(id)
			return s.HandleError(c, err, "failed to store voice track", http.StatusInternalServerError)
		}
	}

	video := &datastore.Video{
		ID:           id,
		Filename:     filename,
		OriginalPath: videoPath,
		VoicePath:    voicePath,
		IntervalSec:  interval,
	}
	ctx := c.Request().Context()
	if err := s.store.Create(ctx, video); err != nil {
		s.removeArtifacts(id)
		return s.HandleError(c, err, "failed to create video", http.StatusInternalServerError)
	}

	if err := s.queue.Enqueue(jobs.TaskFor(video)); err != nil {
		// the row stays queued; startup recovery picks it up
		s.log.Warn("video stored but not enqueued",
			logger.String("video_id", id),
			logger.Error(err))
		return s.HandleError(c, err, "processing queue unavailable, video will be processed later", statusFor(err))
	}

	s.log.Info("video uploaded",
		logger.String("video_id", id),
		logger.String("filename", filename),
		logger.Int("interval_sec", interval),
		logger.Bool("voice_track", voicePath != ""))

	return c.JSON(http.StatusOK, UploadResponse{VideoID: id, Status: video.Status, IntervalSec: interval})
}

// ListVideos returns videos newest first, optionally filtered by status.
func (s *Server) ListVideos(c echo.Context) error {
	status := datastore.Status(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return s.HandleError(c, nil, fmt.Sprintf("unknown status %q", status), http.StatusBadRequest)
	}
	page, err := intParam(c, "page", 1)
	if err != nil {
		return s.HandleError(c, err, "page must be an integer", http.StatusBadRequest)
	}
	pageSize, err := intParam(c, "page_size", 20)
	if err != nil {
		return s.HandleError(c, err, "page_size must be an integer", http.StatusBadRequest)
	}

	res, err := s.store.List(c.Request().Context(), datastore.ListOptions{Status: status, Page: page, PageSize: pageSize})
	if err != nil {
		return s.HandleError(c, err, "failed to list videos", http.StatusInternalServerError)
	}

	out := VideoList{Items: make([]VideoSummary, len(res.Items)), Total: res.Total, Page: res.Page, PageSize: res.PageSize}
	for i := range res.Items {
		out.Items[i] = summarize(&res.Items[i])
	}
	return c.JSON(http.StatusOK, out)
}

// GetVideo returns a video with its report when one has been written.
func (s *Server) GetVideo(c echo.Context) error {
	v, err := s.video(c)
	if err != nil {
		return s.HandleError(c, err, "Video not found", statusFor(err))
	}

	detail := VideoDetail{VideoSummary: summarize(v), Error: firstLine(v.Error), UpdatedAt: v.UpdatedAt}
	raw, err := os.ReadFile(s.layout.ReportPath(v.ID))
	switch {
	case err == nil && json.Valid(raw):
		detail.ReportAvailable = true
		detail.Report = raw
	case err != nil && !os.IsNotExist(err):
		s.log.Warn("report unreadable", logger.String("video_id", v.ID), logger.Error(err))
	}
	if detail.Report == nil {
		detail.Report = json.RawMessage("null")
	}
	return c.JSON(http.StatusOK, detail)
}

// GetStatus returns the job status for polling.
func (s *Server) GetStatus(c echo.Context) error {
	v, err := s.video(c)
	if err != nil {
		return s.HandleError(c, err, "Video not found", statusFor(err))
	}
	return c.JSON(http.StatusOK, VideoStatus{
		VideoID:      v.ID,
		Status:       v.Status,
		Progress:     v.Progress,
		CurrentStage: v.CurrentStage,
		Error:        v.Error,
	})
}

// GetReport returns report.json.
func (s *Server) GetReport(c echo.Context) error {
	v, err := s.video(c)
	if err != nil {
		return s.HandleError(c, err, "Video not found", statusFor(err))
	}
	path := s.layout.ReportPath(v.ID)
	if _, err := os.Stat(path); err != nil {
		return s.HandleError(c, nil, "Report not ready", http.StatusNotFound)
	}
	return c.File(path)
}

// DownloadReport serves report.json as an attachment. Only the json
// format exists.
func (s *Server) DownloadReport(c echo.Context) error {
	id, ok := videoID(c)
	if !ok {
		return s.HandleError(c, nil, "Report not found", http.StatusNotFound)
	}
	if format := c.QueryParam("format"); format != "" && format != "json" {
		return s.HandleError(c, nil, fmt.Sprintf("unsupported report format %q", format), http.StatusBadRequest)
	}
	path := s.layout.ReportPath(id)
	if _, err := os.Stat(path); err != nil {
		return s.HandleError(c, nil, "Report not found", http.StatusNotFound)
	}
	return c.Attachment(path, id+".json")
}

// DownloadVideo serves the original upload.
func (s *Server) DownloadVideo(c echo.Context) error {
	v, err := s.video(c)
	if err != nil {
		return s.HandleError(c, err, "Video not found", statusFor(err))
	}
	if _, err := os.Stat(v.OriginalPath); v.OriginalPath == "" || err != nil {
		return s.HandleError(c, nil, "Video not found", http.StatusNotFound)
	}
	return c.Attachment(v.OriginalPath, v.Filename)
}

// ListFrames returns one page of frames.json with image URLs.
func (s *Server) ListFrames(c echo.Context) error {
	id, ok := videoID(c)
	if !ok {
		return s.HandleError(c, nil, "Frames not ready", http.StatusNotFound)
	}
	page, err := intParam(c, "page", 1)
	if err != nil || page < 1 {
		return s.HandleError(c, err, "page must be a positive integer", http.StatusBadRequest)
	}
	pageSize, err := intParam(c, "page_size", defaultFramePageSize)
	if err != nil || pageSize < 1 {
		return s.HandleError(c, err, "page_size must be a positive integer", http.StatusBadRequest)
	}
	pageSize = min(pageSize, maxFramePageSize)

	var idx artifacts.FramesIndex
	if err := artifacts.ReadJSON(s.layout.FramesIndexPath(id), &idx); err != nil {
		if os.IsNotExist(err) {
			return s.HandleError(c, nil, "Frames not ready", http.StatusNotFound)
		}
		return s.HandleError(c, err, "failed to read frames", http.StatusInternalServerError)
	}

	entries := idx.Page(page, pageSize)
	out := FramesPage{Page: page, PageSize: pageSize, Total: len(idx.Frames), Frames: make([]FrameView, len(entries))}
	for i, e := range entries {
		view := FrameView{FrameEntry: e, URL: fmt.Sprintf("/api/videos/%s/frames/%s", id, e.Filename)}
		if e.AnnotatedFilename != "" {
			view.AnnotatedURL = fmt.Sprintf("/api/videos/%s/frames/%s?annotated=true", id, e.AnnotatedFilename)
		}
		out.Frames[i] = view
	}
	return c.JSON(http.StatusOK, out)
}

// ServeFrame serves a sampled frame, or its annotated copy with
// ?annotated=true.
func (s *Server) ServeFrame(c echo.Context) error {
	id, idOK := videoID(c)
	name, ok := safeName(c.Param("name"))
	if !idOK || !ok || !strings.EqualFold(filepath.Ext(name), ".jpg") {
		return s.HandleError(c, nil, "Frame not found", http.StatusNotFound)
	}
	dir := s.layout.FramesDir(id)
	if annotated, _ := strconv.ParseBool(c.QueryParam("annotated")); annotated {
		dir = s.layout.AnnotatedDir(id)
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return s.HandleError(c, nil, "Frame not found", http.StatusNotFound)
	}
	return c.File(path)
}

// GetTranscript returns transcript.json. With ?q= the response also
// carries the case-insensitive hits per segment.
func (s *Server) GetTranscript(c echo.Context) error {
	id, ok := videoID(c)
	if !ok {
		return s.HandleError(c, nil, "Transcript not ready", http.StatusNotFound)
	}
	var t transcript.Transcript
	if err := artifacts.ReadJSON(s.layout.TranscriptPath(id), &t); err != nil {
		if os.IsNotExist(err) {
			return s.HandleError(c, nil, "Transcript not ready", http.StatusNotFound)
		}
		return s.HandleError(c, err, "failed to read transcript", http.StatusInternalServerError)
	}

	resp := TranscriptResponse{Transcript: &t}
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		resp.Query = q
		resp.Hits, resp.Matches = t.Search(q)
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteVideo removes the artifacts and the row.
func (s *Server) DeleteVideo(c echo.Context) error {
	v, err := s.video(c)
	if err != nil {
		return s.HandleError(c, err, "Video not found", statusFor(err))
	}
	if v.Status == datastore.StatusProcessing {
		s.log.Warn("deleting video while it is processing", logger.String("video_id", v.ID))
	}
	if err := s.layout.Remove(v.ID); err != nil {
		return s.HandleError(c, err, "failed to remove video files", http.StatusInternalServerError)
	}
	if err := s.store.Delete(c.Request().Context(), v.ID); err != nil {
		return s.HandleError(c, err, "failed to delete video", statusFor(err))
	}
	s.log.Info("video deleted", logger.String("video_id", v.ID))
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) video(c echo.Context) (*datastore.Video, error) {
	return s.store.Get(c.Request().Context(), c.Param("id"))
}

// videoID returns the id path parameter when it is a well-formed UUID.
func videoID(c echo.Context) (string, bool) {
	id := c.Param("id")
	return id, uuid.Validate(id) == nil
}

func (s *Server) removeArtifacts(id string) {
	if err := s.layout.Remove(id); err != nil {
		s.log.Warn("failed to clean up upload", logger.String("video_id", id), logger.Error(err))
	}
}

// saveUpload copies an uploaded file to dst.
func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.New(err).Component("api").Category(errors.CategoryFileIO).Context("path", dst).Build()
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.New(err).Component("api").Category(errors.CategoryFileIO).Context("path", dst).Build()
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return errors.New(err).Component("api").Category(errors.CategoryFileIO).Context("path", dst).Build()
	}
	return out.Close()
}

// safeName reduces an uploaded or requested name to its base name.
func safeName(name string) (string, bool) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == ".." || strings.HasPrefix(base, ".") {
		return "", false
	}
	return base, true
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// firstLine drops the stack trace stored after a failure message.
func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
