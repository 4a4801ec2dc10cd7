package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cohortcal/internal/config"
	"cohortcal/internal/model"
	"cohortcal/internal/service"
)

const wideCSV = "Date,Cohort A,Cohort B\n" +
	"03/10/25,FSDI 101,Orientation\n" +
	"03/11/25,FSDI 102,MDI1 150\n" +
	"\"Saturday (9 am - 12 pm), 03/15/25\",FSDI 103,\n" +
	"04/01/25,FSDI 104,MDI1 151\n"

func newTestServer(t *testing.T) (*Server, *service.Service) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SchedulePath = filepath.Join(dir, "schedule.csv")
	svc := service.New(filepath.Join(dir, "cohortcal.yaml"), cfg)
	return NewServer(svc), svc
}

func seed(t *testing.T, svc *service.Service) {
	t.Helper()
	if _, err := svc.ImportWide("schedule.csv", strings.NewReader(wideCSV), false); err != nil {
		t.Fatalf("ImportWide: %v", err)
	}
}

func do(t *testing.T, s *Server, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestEvents(t *testing.T) {
	s, svc := newTestServer(t)
	seed(t, svc)

	rec := do(t, s, http.MethodGet, "/api/events?year=2025&month=3&cohort=Cohort+A", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[eventsResponse](t, rec)
	if len(resp.Events) != 3 {
		t.Fatalf("events = %+v", resp.Events)
	}
	if resp.Events[2].Title != "Cohort A: FSDI 103 (Sat AM)" {
		t.Errorf("title = %q", resp.Events[2].Title)
	}
	if resp.Start != "2025-03-01" || resp.End != "2025-03-31" {
		t.Errorf("period = %s..%s", resp.Start, resp.End)
	}
}

func TestEvents_AllCohortsAndFilters(t *testing.T) {
	s, svc := newTestServer(t)
	seed(t, svc)

	resp := decode[eventsResponse](t, do(t, s, http.MethodGet, "/api/events?start=2025-03-01&end=2025-04-30", nil, ""))
	if len(resp.Events) != 7 {
		t.Errorf("all cohorts: %d events", len(resp.Events))
	}

	resp = decode[eventsResponse](t, do(t, s, http.MethodGet, "/api/events?start=2025-03-01&end=2025-04-30&unit=Orientation", nil, ""))
	if len(resp.Events) != 1 || resp.Events[0].ExtendedProps.Cohort != "Cohort B" {
		t.Errorf("unit filter: %+v", resp.Events)
	}

	resp = decode[eventsResponse](t, do(t, s, http.MethodGet, "/api/events?start=2025-03-01&end=2025-04-30&teacher=Nobody", nil, ""))
	if len(resp.Events) != 0 {
		t.Errorf("teacher filter: %+v", resp.Events)
	}
}

func TestEvents_DefaultMonthFollowsClock(t *testing.T) {
	s, svc := newTestServer(t)
	seed(t, svc)

	svc.SetClock(func() time.Time { return time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC) })
	resp := decode[eventsResponse](t, do(t, s, http.MethodGet, "/api/events?cohort=Cohort+A", nil, ""))
	if resp.Start != "2025-03-01" || len(resp.Events) != 3 {
		t.Fatalf("march: start=%s events=%d", resp.Start, len(resp.Events))
	}

	// No mutation in between, so only the clock moves the default month.
	svc.SetClock(func() time.Time { return time.Date(2025, time.April, 2, 9, 0, 0, 0, time.UTC) })
	resp = decode[eventsResponse](t, do(t, s, http.MethodGet, "/api/events?cohort=Cohort+A", nil, ""))
	if resp.Start != "2025-04-01" || len(resp.Events) != 1 {
		t.Errorf("april: start=%s events=%d", resp.Start, len(resp.Events))
	}
}

func TestEvents_NoCohorts(t *testing.T) {
	s, svc := newTestServer(t)
	seed(t, svc)

	for _, target := range []string{
		"/api/events?year=2025&month=3&cohort=",
		"/api/events?year=2025&month=3&none=1",
		"/api/table?year=2025&month=3&none=1",
	} {
		rec := do(t, s, http.MethodGet, target, nil, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", target, rec.Code)
			continue
		}
		got := decode[map[string]string](t, rec)
		if got["status"] != statusNoCohorts {
			t.Errorf("%s: body = %v", target, got)
		}
	}
}

func TestEvents_BadParams(t *testing.T) {
	s, _ := newTestServer(t)
	for _, target := range []string{
		"/api/events?year=2025&month=13",
		"/api/events?year=x&month=1",
		"/api/events?start=2025-03-01",
		"/api/events?start=2025-03-10&end=2025-03-01",
		"/api/events?start=03/01/25&end=2025-03-02",
	} {
		if rec := do(t, s, http.MethodGet, target, nil, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
	}
}

func TestTable(t *testing.T) {
	s, svc := newTestServer(t)
	seed(t, svc)

	rec := do(t, s, http.MethodGet, "/api/table?year=2025&month=3&cohort=Cohort+B&cohort=Cohort+A", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[tableResponse](t, rec)
	if strings.Join(resp.Cohorts, ",") != "Cohort B,Cohort A" {
		t.Errorf("cohorts = %v", resp.Cohorts)
	}
	if len(resp.Rows) != 3 || resp.Rows[0].Cells["Cohort B"] != "Orientation" {
		t.Errorf("rows = %+v", resp.Rows)
	}

	for _, target := range []string{"/api/table.xlsx?year=2025&month=3", "/api/table.pdf?year=2025&month=3"} {
		rec := do(t, s, http.MethodGet, target, nil, "")
		if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
			t.Errorf("%s: status = %d len = %d", target, rec.Code, rec.Body.Len())
		}
	}
}

func TestCalendarICS(t *testing.T) {
	s, svc := newTestServer(t)
	seed(t, svc)

	rec := do(t, s, http.MethodGet, "/api/calendar.ics?year=2025&month=4", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}
	if n := strings.Count(rec.Body.String(), "BEGIN:VEVENT"); n != 2 {
		t.Errorf("VEVENT count = %d", n)
	}
}

func TestUploadAndCacheInvalidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/events?year=2025&month=3", nil, "")
	if got := decode[map[string]string](t, rec); got["status"] != statusNoCohorts {
		t.Fatalf("empty schedule should select no cohorts, got %v", got)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "schedule.csv")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(wideCSV))
	_ = mw.Close()

	rec = do(t, s, http.MethodPost, "/api/schedule/upload?mode=replace", buf.Bytes(), mw.FormDataContentType())
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d body = %s", rec.Code, rec.Body.String())
	}
	rep := decode[service.ImportReport](t, rec)
	if rep.Added != 7 {
		t.Errorf("report = %+v", rep)
	}

	resp := decode[eventsResponse](t, do(t, s, http.MethodGet, "/api/events?year=2025&month=3&cohort=Cohort+A", nil, ""))
	if len(resp.Events) != 3 {
		t.Fatalf("events after upload = %d", len(resp.Events))
	}

	if rec := do(t, s, http.MethodPost, "/api/teachers", []byte("Cohort A\n101 Sam\n"), "text/plain"); rec.Code != http.StatusOK {
		t.Fatalf("teachers status = %d", rec.Code)
	}
	// Same URI as before; the mutation must have dropped the cached body.
	resp = decode[eventsResponse](t, do(t, s, http.MethodGet, "/api/events?year=2025&month=3&cohort=Cohort+A", nil, ""))
	if len(resp.Events) != 3 || resp.Events[0].Title != "Cohort A: FSDI 101 (Sam)" {
		t.Fatalf("events = %+v", resp.Events)
	}
}

func TestUpload_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := do(t, s, http.MethodPost, "/api/schedule/upload?mode=merge", nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad mode status = %d", rec.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "schedule.csv")
	_, _ = fw.Write([]byte("Day,Cohort A\n03/10/25,FSDI 101\n"))
	_ = mw.Close()
	if rec := do(t, s, http.MethodPost, "/api/schedule/upload", buf.Bytes(), mw.FormDataContentType()); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("schema violation status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestPaste(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/schedule/paste", []byte("FSDI Ch 54\nMonday\t03/10/2025\tFSDI 101\n"), "text/plain")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rep := decode[service.ImportReport](t, rec); rep.Added != 1 {
		t.Errorf("report = %+v", rep)
	}

	if rec := do(t, s, http.MethodPost, "/api/schedule/paste", []byte("  \n"), "text/plain"); rec.Code != http.StatusBadRequest {
		t.Errorf("blank paste status = %d", rec.Code)
	}
}

func TestTeachers(t *testing.T) {
	s, svc := newTestServer(t)
	seed(t, svc)

	rec := do(t, s, http.MethodPost, "/api/teachers", []byte("Cohort A\n101 Sam\n102\tJordan Lee\n"), "text/plain")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	got := decode[teachersResponse](t, do(t, s, http.MethodGet, "/api/teachers", nil, ""))
	if got.Assignments["Cohort A"]["102"] != "Jordan Lee" {
		t.Errorf("assignments = %v", got.Assignments)
	}
	if strings.Join(got.KnownTeachers, ",") != "Jordan Lee,Sam" {
		t.Errorf("known = %v", got.KnownTeachers)
	}
}

func TestColors(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/api/colors", []byte(`{"fsdi":"#000000","MDI2":"#ffffff"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	got := decode[colorsResponse](t, do(t, s, http.MethodGet, "/api/colors", nil, ""))
	if got.Colors[string(model.CategoryFSDI)] != "#000000" || got.Colors["MDI2"] != "#ffffff" {
		t.Errorf("colors = %v", got.Colors)
	}

	for _, body := range []string{`{"PURPLE":"#000000"}`, `{"MDI1":"red"}`, `not json`} {
		if rec := do(t, s, http.MethodPut, "/api/colors", []byte(body), "application/json"); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, rec.Code)
		}
	}
	// Rejected updates leave colors untouched.
	got = decode[colorsResponse](t, do(t, s, http.MethodGet, "/api/colors", nil, ""))
	if got.Colors["MDI1"] != "#ff7f0e" {
		t.Errorf("MDI1 = %q", got.Colors["MDI1"])
	}
}

func TestOptions(t *testing.T) {
	s, svc := newTestServer(t)
	seed(t, svc)

	got := decode[service.Overview](t, do(t, s, http.MethodGet, "/api/options", nil, ""))
	if strings.Join(got.Options.Cohorts, ",") != "Cohort A,Cohort B" {
		t.Errorf("cohorts = %v", got.Options.Cohorts)
	}
	if len(got.Months) != 2 {
		t.Errorf("months = %+v", got.Months)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, svc := newTestServer(t)
	seed(t, svc)
	_ = do(t, s, http.MethodGet, "/api/events?year=2025&month=3", nil, "")

	rec := do(t, s, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "cohortcal_derive_total") {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
