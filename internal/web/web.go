package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"cohortcal/internal/config"
	"cohortcal/internal/derive"
	"cohortcal/internal/export"
	"cohortcal/internal/ics"
	appLog "cohortcal/internal/log"
	"cohortcal/internal/metrics"
	"cohortcal/internal/model"
	"cohortcal/internal/schedule"
	"cohortcal/internal/service"
)

const (
	maxUploadBytes = 16 << 20
	maxPasteBytes  = 1 << 20

	statusNoCohorts = "no_cohorts_selected"
)

// Server provides the HTTP API consumed by the calendar front end.
type Server struct {
	svc *service.Service
	mux *http.ServeMux

	// Rendered derived-view responses keyed by cacheKey.
	// Dropped whenever the service reports a change.
	cacheMu  sync.RWMutex
	cache    map[string]cachedResponse
	cacheGen uint64
}

type cachedResponse struct {
	contentType string
	body        []byte
}

// NewServer constructs a new Server.
func NewServer(svc *service.Service) *Server {
	s := &Server{
		svc:   svc,
		mux:   http.NewServeMux(),
		cache: make(map[string]cachedResponse),
	}
	svc.Subscribe(s.dropCache)
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// StartServer serves the API on listen until ctx is canceled, then shuts
// down gracefully.
func StartServer(ctx context.Context, svc *service.Service, listen string) error {
	s := NewServer(svc)
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/options", s.handleOptions)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/table", s.handleTable)
	s.mux.HandleFunc("GET /api/table.xlsx", s.handleTableXLSX)
	s.mux.HandleFunc("GET /api/table.pdf", s.handleTablePDF)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleICS)
	s.mux.HandleFunc("POST /api/schedule/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/schedule/paste", s.handlePaste)
	s.mux.HandleFunc("GET /api/teachers", s.handleTeachers)
	s.mux.HandleFunc("POST /api/teachers", s.handleTeachersUpdate)
	s.mux.HandleFunc("GET /api/colors", s.handleColors)
	s.mux.HandleFunc("PUT /api/colors", s.handleColorsUpdate)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	ov, err := s.svc.Overview()
	if err != nil {
		s.writeServiceError(w, "options", err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events  []model.CalendarEvent `json:"events"`
	Skipped int                   `json:"skipped"`
	Start   string                `json:"start"`
	End     string                `json:"end"`
}

// handleEvents returns derived events for the selected cohorts and period.
//
// GET /api/events?year=2025&month=3&cohort=A&cohort=B&unit=FSDI 101&teacher=Sam
//   - year/month or start/end (YYYY-MM-DD); defaults to the default month
//   - cohort:  repeated; absent means every cohort, empty or none=1 means none
//   - unit, teacher: repeated; absent means no filter
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	slot, hit := s.serveCached(w, r)
	if hit {
		return
	}
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, skipped, err := s.svc.Events(q)
	if errors.Is(err, derive.ErrNoCohorts) {
		writeNoCohorts(w)
		return
	}
	if err != nil {
		s.writeServiceError(w, "events", err)
		return
	}

	resp := eventsResponse{
		Events:  events,
		Skipped: skipped,
		Start:   q.Period.Start.Format(model.DateLayout),
		End:     q.Period.End.Format(model.DateLayout),
	}
	s.writeCachedJSON(w, slot, resp)
}

// tableResponse is the JSON response shape for /api/table.
type tableResponse struct {
	model.Table
	Skipped int    `json:"skipped"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	slot, hit := s.serveCached(w, r)
	if hit {
		return
	}
	tbl, q, skipped, ok := s.table(w, r)
	if !ok {
		return
	}
	s.writeCachedJSON(w, slot, tableResponse{
		Table:   tbl,
		Skipped: skipped,
		Start:   q.Period.Start.Format(model.DateLayout),
		End:     q.Period.End.Format(model.DateLayout),
	})
}

func (s *Server) handleTableXLSX(w http.ResponseWriter, r *http.Request) {
	slot, hit := s.serveCached(w, r)
	if hit {
		return
	}
	tbl, _, _, ok := s.table(w, r)
	if !ok {
		return
	}
	data, err := export.TableXLSX(tbl)
	if err != nil {
		appLog.Error("xlsx export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render xlsx")
		return
	}
	s.writeCached(w, slot, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) handleTablePDF(w http.ResponseWriter, r *http.Request) {
	slot, hit := s.serveCached(w, r)
	if hit {
		return
	}
	tbl, q, _, ok := s.table(w, r)
	if !ok {
		return
	}
	title := q.Period.Start.Format(model.DateLayout) + " to " + q.Period.End.Format(model.DateLayout)
	data, err := export.TablePDF(tbl, title)
	if err != nil {
		appLog.Error("pdf export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render pdf")
		return
	}
	s.writeCached(w, slot, "application/pdf", data)
}

// table derives the pivot for r, writing the response itself on failure.
func (s *Server) table(w http.ResponseWriter, r *http.Request) (model.Table, derive.Query, int, bool) {
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.Table{}, q, 0, false
	}
	tbl, skipped, err := s.svc.Table(q)
	if errors.Is(err, derive.ErrNoCohorts) {
		writeNoCohorts(w)
		return model.Table{}, q, 0, false
	}
	if err != nil {
		s.writeServiceError(w, "table", err)
		return model.Table{}, q, 0, false
	}
	return tbl, q, skipped, true
}

// handleICS serves the selection as an ICS feed. Selecting no cohorts
// yields an empty calendar.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	slot, hit := s.serveCached(w, r)
	if hit {
		return
	}
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, _, err := s.svc.Events(q)
	if err != nil && !errors.Is(err, derive.ErrNoCohorts) {
		s.writeServiceError(w, "ics", err)
		return
	}
	body := ics.BuildCalendar(s.svc.ICSName(), events, time.Now())
	s.writeCached(w, slot, "text/calendar; charset=utf-8", []byte(body))
}

// handleUpload ingests a wide CSV or XLSX schedule.
//
// POST /api/schedule/upload?mode=append|replace, multipart field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "append"
	}
	if mode != "append" && mode != "replace" {
		writeError(w, http.StatusBadRequest, "mode must be append or replace")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	rep, err := s.svc.ImportWide(header.Filename, file, mode == "replace")
	if err != nil {
		s.writeServiceError(w, "upload", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handlePaste ingests a pasted long-form block sent as the request body.
func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request) {
	text, err := readText(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	rep, err := s.svc.ImportLongForm(text)
	if err != nil {
		s.writeServiceError(w, "paste", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// teachersResponse is the JSON response shape for /api/teachers.
type teachersResponse struct {
	Assignments   map[string]map[string]string `json:"assignments"`
	KnownTeachers []string                     `json:"known_teachers"`
	Skipped       int                          `json:"skipped,omitempty"`
	Warning       string                       `json:"warning,omitempty"`
}

func (s *Server) handleTeachers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, teachersResponse{
		Assignments:   s.svc.Roster().Snapshot(),
		KnownTeachers: s.svc.Roster().KnownTeachers(),
	})
}

// handleTeachersUpdate merges a pasted assignment block sent as the body.
// A failed config save still returns 200 with a warning; the merge is live.
func (s *Server) handleTeachersUpdate(w http.ResponseWriter, r *http.Request) {
	text, err := readText(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	delta, err := s.svc.UpdateAssignments(text)
	resp := teachersResponse{
		Assignments:   delta.Assignments,
		KnownTeachers: delta.Teachers,
		Skipped:       delta.Skipped,
	}
	switch {
	case errors.Is(err, service.ErrConfigIO):
		resp.Warning = "assignments applied but not saved"
	case err != nil:
		s.writeServiceError(w, "teachers", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// colorsResponse is the JSON response shape for /api/colors.
type colorsResponse struct {
	Colors  map[string]string `json:"colors"`
	Warning string            `json:"warning,omitempty"`
}

func (s *Server) colors() map[string]string {
	out := make(map[string]string)
	for cat, c := range s.svc.Palette() {
		out[string(cat)] = c
	}
	return out
}

func (s *Server) handleColors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, colorsResponse{Colors: s.colors()})
}

// handleColorsUpdate applies a {"CATEGORY": "#rrggbb"} object. Every key is
// validated before any color changes.
func (s *Server) handleColorsUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPasteBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updates := make(map[model.Category]string, len(body))
	for k, v := range body {
		cat, ok := model.ParseCategory(k)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", k))
			return
		}
		if !config.ValidColor(strings.TrimSpace(v)) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%q is not #rrggbb", v))
			return
		}
		updates[cat] = v
	}

	resp := colorsResponse{}
	for _, cat := range model.Categories {
		color, ok := updates[cat]
		if !ok {
			continue
		}
		err := s.svc.SetColor(string(cat), color)
		if errors.Is(err, service.ErrConfigIO) {
			resp.Warning = "colors applied but not saved"
			continue
		}
		if err != nil {
			s.writeServiceError(w, "colors", err)
			return
		}
	}
	resp.Colors = s.colors()
	writeJSON(w, http.StatusOK, resp)
}

// parseQuery builds a derive.Query from URL parameters.
func (s *Server) parseQuery(r *http.Request) (derive.Query, error) {
	v := r.URL.Query()
	q := derive.Query{
		Units:    nonEmpty(v["unit"]),
		Teachers: nonEmpty(v["teacher"]),
	}

	period, err := s.parsePeriod(v.Get("year"), v.Get("month"), v.Get("start"), v.Get("end"))
	if err != nil {
		return q, err
	}
	q.Period = period

	raw, present := v["cohort"]
	switch {
	case v.Get("none") == "1":
	case present:
		q.Cohorts = nonEmpty(raw)
	default:
		all, err := s.svc.AllCohorts()
		if err != nil {
			return q, err
		}
		q.Cohorts = all
	}
	return q, nil
}

func (s *Server) parsePeriod(year, month, start, end string) (model.Period, error) {
	switch {
	case start != "" || end != "":
		if start == "" || end == "" {
			return model.Period{}, errors.New("start and end must be given together")
		}
		a, err := time.Parse(model.DateLayout, start)
		if err != nil {
			return model.Period{}, fmt.Errorf("invalid start %q", start)
		}
		b, err := time.Parse(model.DateLayout, end)
		if err != nil {
			return model.Period{}, fmt.Errorf("invalid end %q", end)
		}
		if b.Before(a) {
			return model.Period{}, errors.New("end is before start")
		}
		return model.RangePeriod(a, b), nil

	case year != "" || month != "":
		y, err := strconv.Atoi(year)
		if err != nil || y < 1 {
			return model.Period{}, fmt.Errorf("invalid year %q", year)
		}
		m, err := strconv.Atoi(month)
		if err != nil || m < 1 || m > 12 {
			return model.Period{}, fmt.Errorf("invalid month %q", month)
		}
		return model.MonthPeriod(y, time.Month(m)), nil

	default:
		return s.svc.DefaultPeriod()
	}
}

// cacheKey is the request URI plus, when the request names no period, the
// default month it resolves to today.
func (s *Server) cacheKey(r *http.Request) string {
	key := r.URL.RequestURI()
	v := r.URL.Query()
	if v.Get("start") != "" || v.Get("end") != "" || v.Get("year") != "" || v.Get("month") != "" {
		return key
	}
	if p, err := s.svc.DefaultPeriod(); err == nil {
		key += "#" + p.Start.Format(model.DateLayout)
	}
	return key
}

// cacheSlot is where a response for one request is stored: its key and the
// cache generation seen when the lookup missed.
type cacheSlot struct {
	key string
	gen uint64
}

// serveCached writes a cached response for r if there is one. On a miss the
// returned slot is handed to writeCached.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request) (cacheSlot, bool) {
	key := s.cacheKey(r)
	s.cacheMu.RLock()
	c, ok := s.cache[key]
	slot := cacheSlot{key: key, gen: s.cacheGen}
	s.cacheMu.RUnlock()
	if !ok {
		return slot, false
	}
	w.Header().Set("Content-Type", c.contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.body)
	return slot, true
}

func (s *Server) writeCachedJSON(w http.ResponseWriter, slot cacheSlot, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		appLog.Error("failed to encode JSON response", err)
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	s.writeCached(w, slot, "application/json; charset=utf-8", append(data, '\n'))
}

// writeCached stores body unless the cache was dropped since the slot was
// taken, then writes it.
func (s *Server) writeCached(w http.ResponseWriter, slot cacheSlot, contentType string, body []byte) {
	s.cacheMu.Lock()
	if s.cacheGen == slot.gen {
		s.cache[slot.key] = cachedResponse{contentType: contentType, body: body}
	}
	s.cacheMu.Unlock()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) dropCache() {
	s.cacheMu.Lock()
	n := len(s.cache)
	s.cache = make(map[string]cachedResponse)
	s.cacheGen++
	s.cacheMu.Unlock()
	if n > 0 {
		appLog.Debug("response cache dropped", "entries", n)
	}
}

// writeServiceError maps service errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, schedule.ErrSchema):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrEmptyInput), errors.Is(err, service.ErrInvalidColor):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("api request failed", err, "op", op)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeNoCohorts(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": statusNoCohorts})
}

func readText(w http.ResponseWriter, r *http.Request) (string, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPasteBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonEmpty(list []string) []string {
	var out []string
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
