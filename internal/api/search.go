package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/entityindex/internal/search"
)

// Search finds completed videos containing the queried entities.
func (s *Server) Search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return s.HandleError(c, nil, "q is required", http.StatusBadRequest)
	}

	opts := search.Options{Similarity: search.DefaultSimilarity}
	if s.settings.LabelIndex.Similarity > 0 {
		opts.Similarity = s.settings.LabelIndex.Similarity
	}
	var err error
	if opts.Similarity, err = floatParam(c, "similarity", opts.Similarity, 0, 1); err != nil {
		return s.HandleError(c, err, "similarity must be a number between 0 and 1", http.StatusBadRequest)
	}
	if opts.MinPresence, err = floatParam(c, "min_presence", 0, 0, 1); err != nil {
		return s.HandleError(c, err, "min_presence must be a number between 0 and 1", http.StatusBadRequest)
	}
	if opts.MinFrames, err = intParam(c, "min_frames", 0); err != nil || opts.MinFrames < 0 {
		return s.HandleError(c, err, "min_frames must be a non-negative integer", http.StatusBadRequest)
	}

	resp, err := s.searcher.Search(c.Request().Context(), q, opts)
	if err != nil {
		return s.HandleError(c, err, "search failed", statusFor(err))
	}
	return c.JSON(http.StatusOK, resp)
}

func floatParam(c echo.Context, name string, def, lo, hi float64) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, strconv.ErrRange
	}
	return v, nil
}
