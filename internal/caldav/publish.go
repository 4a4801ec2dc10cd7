// Package caldav publishes derived cohort events to a CalDAV collection,
// one calendar object per event.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"cohortcal/internal/ics"
	appLog "cohortcal/internal/log"
	"cohortcal/internal/model"
)

// ErrNotConfigured is returned when the CalDAV endpoint or collection is missing.
var ErrNotConfigured = errors.New("caldav: endpoint not configured")

// Config holds the connection settings. Credentials are never persisted
// to the config file.
type Config struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarPath string
}

// ConfigFromEnv reads CALDAV_URL, CALDAV_USERNAME, CALDAV_PASSWORD and
// CALDAV_CALENDAR_PATH.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:     strings.TrimSpace(os.Getenv("CALDAV_URL")),
		Username:     os.Getenv("CALDAV_USERNAME"),
		Password:     os.Getenv("CALDAV_PASSWORD"),
		CalendarPath: strings.TrimSpace(os.Getenv("CALDAV_CALENDAR_PATH")),
	}
	if cfg.Endpoint == "" || cfg.CalendarPath == "" {
		return cfg, ErrNotConfigured
	}
	return cfg, nil
}

// userAgentTransport tags outgoing requests.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "cohortcal/1.0")
	return t.base.RoundTrip(req)
}

// Publisher writes events into one calendar collection.
type Publisher struct {
	client       *caldav.Client
	calendarPath string
	now          func() time.Time
}

// NewPublisher builds a Publisher. A nil httpClient uses a client with a
// 30s timeout.
func NewPublisher(httpClient *http.Client, cfg Config) (*Publisher, error) {
	if cfg.Endpoint == "" || cfg.CalendarPath == "" {
		return nil, ErrNotConfigured
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *httpClient
	hc.Transport = &userAgentTransport{base: base}

	var wc webdav.HTTPClient = &hc
	if cfg.Username != "" {
		wc = webdav.HTTPClientWithBasicAuth(wc, cfg.Username, cfg.Password)
	}

	client, err := caldav.NewClient(wc, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return &Publisher{
		client:       client,
		calendarPath: cfg.CalendarPath,
		now:          time.Now,
	}, nil
}

// Publish puts every event into the collection. Objects are keyed by
// their stable UID, so republishing overwrites instead of duplicating.
// It stops at the first failed PUT and returns how many were written.
func (p *Publisher) Publish(ctx context.Context, events []model.CalendarEvent) (int, error) {
	uids := ics.UIDs(events)
	stamp := p.now().UTC()

	written := 0
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		cal, err := ToICal(ev, uids[i], stamp)
		if err != nil {
			appLog.Warn("skipping event without a usable date", "title", ev.Title, "start", ev.Start)
			continue
		}
		objPath := path.Join(p.calendarPath, objectName(uids[i]))
		if _, err := p.client.PutCalendarObject(ctx, objPath, cal); err != nil {
			return written, fmt.Errorf("failed to put %s: %w", objPath, err)
		}
		written++
		appLog.Debug("event published", "path", objPath, "title", ev.Title)
	}
	appLog.Info("caldav publish finished", "collection", p.calendarPath, "events", written)
	return written, nil
}

// ToICal wraps one event into a single-VEVENT calendar object.
func ToICal(ev model.CalendarEvent, uid string, stamp time.Time) (*ical.Calendar, error) {
	start := ev.Date
	if start.IsZero() {
		t, err := time.Parse(model.DateLayout, ev.Start)
		if err != nil {
			return nil, err
		}
		start = t
	}

	ve := ical.NewEvent()
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetText(ical.PropDescription, ics.Description(ev))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	ve.Props.SetDate(ical.PropDateTimeStart, start)
	ve.Props.SetDate(ical.PropDateTimeEnd, start.AddDate(0, 0, 1))
	if ev.Category != "" {
		ve.Props.SetText(ical.PropCategories, string(ev.Category))
	}
	if ev.Color != "" {
		ve.Props.SetText("COLOR", ev.Color)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//cohortcal//schedule//EN")
	cal.Children = append(cal.Children, ve.Component)
	return cal, nil
}

// objectName turns a UID into a safe resource name.
func objectName(uid string) string {
	name := strings.NewReplacer("@", "-", "/", "-").Replace(uid)
	return name + ".ics"
}
