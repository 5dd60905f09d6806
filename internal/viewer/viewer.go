// Package viewer serves captured runs over a small read-only HTTP API:
// run listing, summaries, filtered record streams and externalized
// bodies, plus health and Prometheus metrics.
package viewer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"apiscout/internal/capture"
	"apiscout/internal/version"
)

// bodyHashPattern guards the bodies route against path traversal: only
// full lowercase SHA-256 digests are accepted.
var bodyHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// runIDPattern matches run directory names minted by the orchestrator.
var runIDPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._-]*$`)

// Server serves one output directory of runs.
type Server struct {
	echo   *echo.Echo
	outDir string
}

// RunInfo is one element of the run listing.
type RunInfo struct {
	RunID     string `json:"runId"`
	StartedAt string `json:"startedAt"`
	URL       string `json:"url"`
}

// New builds the viewer over outDir.
func New(outDir string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	s := &Server{echo: e, outDir: outDir}

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/runs", s.listRuns)
	e.GET("/runs/:id/summary", s.runSummary)
	e.GET("/runs/:id/records", s.runRecords)
	e.GET("/runs/:id/bodies/:hash", s.runBody)

	return s
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	slog.Info("viewer listening", "addr", addr, "dir", s.outDir)
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) listRuns(c echo.Context) error {
	entries, err := os.ReadDir(s.outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return c.JSON(http.StatusOK, []RunInfo{})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot read output directory")
	}

	runs := make([]RunInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := capture.ReadRunMetadata(filepath.Join(s.outDir, entry.Name()))
		if err != nil {
			continue
		}
		runs = append(runs, RunInfo{RunID: meta.RunID, StartedAt: meta.StartedAt, URL: meta.URL})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt > runs[j].StartedAt })
	return c.JSON(http.StatusOK, runs)
}

// runDir resolves and validates the run directory for the :id param.
func (s *Server) runDir(c echo.Context) (string, error) {
	id := c.Param("id")
	if !runIDPattern.MatchString(id) {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	dir := filepath.Join(s.outDir, id)
	if _, err := os.Stat(dir); err != nil {
		return "", echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return dir, nil
}

func (s *Server) runSummary(c echo.Context) error {
	dir, err := s.runDir(c)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "summary.json")
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run has no summary")
	}
	return c.File(path)
}

// runRecords streams journal records as a JSON array. Optional query
// parameters filter the stream:
//   - endpointKey: exact match
//   - status: exact match
//   - jsonOnly=true: only records with a parsed JSON body
//   - where + equals: gjson path match against the record, e.g.
//     where=features.hasId&equals=true
func (s *Server) runRecords(c echo.Context) error {
	dir, err := s.runDir(c)
	if err != nil {
		return err
	}

	endpointKey := c.QueryParam("endpointKey")
	jsonOnly := c.QueryParam("jsonOnly") == "true"
	wherePath := c.QueryParam("where")
	equals := c.QueryParam("equals")
	status := 0
	if v := c.QueryParam("status"); v != "" {
		status, err = strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
		}
	}

	var out []*capture.Record
	err = capture.ReadJournal(filepath.Join(dir, capture.JournalName), func(rec *capture.Record) error {
		if endpointKey != "" && rec.EndpointKey != endpointKey {
			return nil
		}
		if status != 0 && rec.Status != status {
			return nil
		}
		if jsonOnly && !rec.JSONParseSuccess {
			return nil
		}
		if wherePath != "" && !matchesPath(rec, wherePath, equals) {
			return nil
		}
		clone := *rec
		out = append(out, &clone)
		return nil
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run has no journal")
	}
	if out == nil {
		out = []*capture.Record{}
	}
	return c.JSON(http.StatusOK, out)
}

// matchesPath re-encodes the record and evaluates a gjson path against
// it, comparing the raw result to want.
func matchesPath(rec *capture.Record, path, want string) bool {
	data, err := json.Marshal(rec)
	if err != nil {
		return false
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return false
	}
	if want == "" {
		return true
	}
	return res.String() == want
}

func (s *Server) runBody(c echo.Context) error {
	dir, err := s.runDir(c)
	if err != nil {
		return err
	}
	hash := c.Param("hash")
	if !bodyHashPattern.MatchString(hash) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body hash")
	}
	path := filepath.Join(dir, "bodies", hash+".json")
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "body not found")
	}
	return c.File(path)
}
