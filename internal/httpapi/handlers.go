package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/opsmithlabs/errmond/internal/fixer"
	"github.com/opsmithlabs/errmond/internal/pattern"
)

const (
	defaultWindowHours = 1
	defaultLimit       = 100
	maxWindowHours     = 168 // one week
	maxLimit           = 5000
)

// errorResponse is the structured failure body. Step names the pipeline
// stage that failed so operators can tell a log source outage from a fix
// generation failure.
type errorResponse struct {
	Error string `json:"error"`
	Step  string `json:"step"`
}

func fail(c echo.Context, status int, step string, err error) error {
	return c.JSON(status, errorResponse{Error: err.Error(), Step: step})
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	SourceEnabled   bool   `json:"log_source_enabled"`
	FixerEnabled    bool   `json:"fixer_enabled"`
	TrackedPatterns int    `json:"tracked_patterns"`
	Fixes           int    `json:"fixes"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:          "ok",
		SourceEnabled:   s.monitor.SourceEnabled(),
		FixerEnabled:    s.fixer != nil,
		TrackedPatterns: s.monitor.Store().Len(),
	}
	if s.fixer != nil {
		resp.Fixes = len(s.fixer.Fixes())
	}
	return c.JSON(http.StatusOK, resp)
}

// window reads hours/limit query parameters with defaults and caps.
func window(c echo.Context) (time.Duration, int) {
	hours := defaultWindowHours
	if raw := c.QueryParam("hours"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxWindowHours {
			hours = v
		}
	}
	limit := defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxLimit {
			limit = v
		}
	}
	return time.Duration(hours) * time.Hour, limit
}

// PatternsResponse is the response body for the error listing endpoints.
type PatternsResponse struct {
	Count       int                `json:"count"`
	WindowHours float64            `json:"window_hours"`
	Patterns    []*pattern.Pattern `json:"patterns"`
	FetchFailed bool               `json:"fetch_failed,omitempty"`
}

func (s *Server) handleRecentErrors(c echo.Context) error {
	win, limit := window(c)
	ctx := c.Request().Context()

	events, fetchErr := s.monitor.FetchRecent(ctx, win, limit)
	patterns := s.monitor.Analyze(ctx, events)
	pattern.SortBySeverity(patterns)

	return c.JSON(http.StatusOK, PatternsResponse{
		Count:       len(patterns),
		WindowHours: win.Hours(),
		Patterns:    patterns,
		FetchFailed: fetchErr != nil,
	})
}

func (s *Server) handleCriticalErrors(c echo.Context) error {
	win, limit := window(c)
	patterns := s.monitor.Critical(c.Request().Context(), win, limit)

	return c.JSON(http.StatusOK, PatternsResponse{
		Count:       len(patterns),
		WindowHours: win.Hours(),
		Patterns:    patterns,
	})
}

func (s *Server) handleFixableErrors(c echo.Context) error {
	win, limit := window(c)
	patterns := s.monitor.Fixable(c.Request().Context(), win, limit)

	return c.JSON(http.StatusOK, PatternsResponse{
		Count:       len(patterns),
		WindowHours: win.Hours(),
		Patterns:    patterns,
	})
}

// TrackedResponse is the response body for GET /api/v1/errors/patterns.
type TrackedResponse struct {
	Count      int                `json:"count"`
	ByCategory map[string]int     `json:"by_category"`
	Patterns   []*pattern.Pattern `json:"patterns"`
}

func (s *Server) handleTrackedPatterns(c echo.Context) error {
	store := s.monitor.Store()

	counts := make(map[string]int)
	for category, n := range store.CountsByCategory() {
		counts[string(category)] = n
	}

	return c.JSON(http.StatusOK, TrackedResponse{
		Count:      store.Len(),
		ByCategory: counts,
		Patterns:   store.All(),
	})
}

// ScanResponse is the response body for POST /api/v1/scan.
type ScanResponse struct {
	Patterns         int  `json:"patterns"`
	Critical         int  `json:"critical"`
	Tracked          int  `json:"tracked"`
	FetchFailed      bool `json:"fetch_failed"`
	AutoFixesStarted int  `json:"auto_fixes_started"`
}

func (s *Server) handleScan(c echo.Context) error {
	win, limit := window(c)
	res := s.monitor.Scan(c.Request().Context(), win, limit)

	started := 0
	if c.QueryParam("auto_fix") == "true" && s.fixer != nil {
		var fixable []*pattern.Pattern
		for _, p := range res.Patterns {
			if p.Fixable {
				fixable = append(fixable, p)
			}
		}
		started = len(fixable)
		if started > 0 {
			// Fix generation outlives the request, so it runs against a
			// fresh context rather than the request's.
			go s.fixer.ProcessBatch(context.Background(), fixable, true)
		}
	}

	return c.JSON(http.StatusOK, ScanResponse{
		Patterns:         len(res.Patterns),
		Critical:         res.Critical,
		Tracked:          s.monitor.Store().Len(),
		FetchFailed:      res.FetchFailed,
		AutoFixesStarted: started,
	})
}

// GenerateFixRequest is the request body for POST /api/v1/fixes/generate.
// CreatePR moves the work to the background and opens a pull request when
// it finishes; the response then only acknowledges the request.
type GenerateFixRequest struct {
	PatternKey string `json:"pattern_key"`
	CreatePR   bool   `json:"create_pr"`
}

// FixScheduledResponse acknowledges a background fix request.
type FixScheduledResponse struct {
	Status     string `json:"status"`
	PatternKey string `json:"pattern_key"`
}

func (s *Server) handleGenerateFix(c echo.Context) error {
	if s.fixer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "fix generation is not configured")
	}

	var req GenerateFixRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid fix request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatternKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern_key field is required")
	}

	p, ok := s.monitor.Store().Get(req.PatternKey)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown pattern key")
	}
	if !p.Fixable {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "pattern is not automatically fixable")
	}

	if req.CreatePR {
		go func() {
			if _, err := s.fixer.Process(context.Background(), p, true); err != nil {
				s.logger.Warn("background fix failed",
					zap.String("pattern_key", p.Key()), zap.Error(err))
			}
		}()
		return c.JSON(http.StatusAccepted, FixScheduledResponse{
			Status:     "scheduled",
			PatternKey: p.Key(),
		})
	}

	fix, err := s.fixer.Process(c.Request().Context(), p, false)
	if err != nil {
		return fail(c, http.StatusBadGateway, "fix_generation", err)
	}

	return c.JSON(http.StatusOK, fix)
}

// BatchResponse is the response body for POST /api/v1/fixes/generate-batch.
type BatchResponse struct {
	Requested int             `json:"requested"`
	Generated int             `json:"generated"`
	Fixes     []*fixer.BugFix `json:"fixes"`
}

// GenerateBatchRequest is the request body for POST /api/v1/fixes/generate-batch.
// An empty key list means every fixable tracked pattern.
type GenerateBatchRequest struct {
	Keys    []string `json:"keys"`
	OpenPRs bool     `json:"open_prs"`
}

func (s *Server) handleGenerateBatch(c echo.Context) error {
	if s.fixer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "fix generation is not configured")
	}

	var req GenerateBatchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid batch request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	store := s.monitor.Store()
	var targets []*pattern.Pattern
	if len(req.Keys) == 0 {
		targets = store.Fixable()
	} else {
		for _, key := range req.Keys {
			p, ok := store.Get(key)
			if !ok {
				return echo.NewHTTPError(http.StatusNotFound, "unknown pattern key: "+key)
			}
			if !p.Fixable {
				continue
			}
			targets = append(targets, p)
		}
	}

	fixes := s.fixer.ProcessBatch(c.Request().Context(), targets, req.OpenPRs)

	return c.JSON(http.StatusOK, BatchResponse{
		Requested: len(targets),
		Generated: len(fixes),
		Fixes:     fixes,
	})
}

// FixesResponse is the response body for GET /api/v1/fixes.
type FixesResponse struct {
	Count int             `json:"count"`
	Fixes []*fixer.BugFix `json:"fixes"`
}

func (s *Server) handleListFixes(c echo.Context) error {
	if s.fixer == nil {
		return c.JSON(http.StatusOK, FixesResponse{Count: 0, Fixes: []*fixer.BugFix{}})
	}
	fixes := s.fixer.Fixes()
	return c.JSON(http.StatusOK, FixesResponse{Count: len(fixes), Fixes: fixes})
}

func (s *Server) handleGetFix(c echo.Context) error {
	if s.fixer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "fix generation is not configured")
	}

	fix, err := s.fixer.Fix(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown fix id")
	}
	return c.JSON(http.StatusOK, fix)
}

func (s *Server) handleSupervisorStatus(c echo.Context) error {
	if s.supervisor == nil {
		return c.JSON(http.StatusOK, map[string]any{"running": false, "enabled": false})
	}
	return c.JSON(http.StatusOK, s.supervisor.Status())
}
