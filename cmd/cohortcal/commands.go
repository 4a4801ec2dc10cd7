package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"cohortcal/internal/caldav"
	"cohortcal/internal/derive"
	"cohortcal/internal/export"
	"cohortcal/internal/ics"
	appLog "cohortcal/internal/log"
	"cohortcal/internal/model"
	"cohortcal/internal/service"
)

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import a wide CSV or XLSX schedule (Date column plus one column per cohort).",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "replace", Usage: "Replace the stored schedule instead of appending"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("import takes exactly one file")
			}
			svc, _ := openService(c)

			name := c.Args().First()
			f, err := os.Open(name)
			if err != nil {
				return err
			}
			defer f.Close()

			rep, err := svc.ImportWide(filepath.Base(name), f, c.Bool("replace"))
			if err != nil {
				return fmt.Errorf("import %s: %w", name, err)
			}
			printReport(c.App.Writer, rep)
			return nil
		},
	}
}

func pasteCommand() *cli.Command {
	return &cli.Command{
		Name:      "paste",
		Usage:     "Import a pasted long-form schedule block (\"-\" reads stdin).",
		ArgsUsage: "<file|->",
		Action: func(c *cli.Context) error {
			text, err := readInput(c)
			if err != nil {
				return err
			}
			svc, _ := openService(c)
			rep, err := svc.ImportLongForm(text)
			if err != nil {
				return err
			}
			printReport(c.App.Writer, rep)
			return nil
		},
	}
}

func teachersCommand() *cli.Command {
	return &cli.Command{
		Name:      "teachers",
		Usage:     "Merge a pasted teacher assignment block (\"-\" reads stdin).",
		ArgsUsage: "<file|->",
		Action: func(c *cli.Context) error {
			text, err := readInput(c)
			if err != nil {
				return err
			}
			svc, _ := openService(c)
			delta, err := svc.UpdateAssignments(text)
			if err != nil && !errors.Is(err, service.ErrConfigIO) {
				return err
			}
			if err != nil {
				fmt.Fprintln(c.App.ErrWriter, "warning: assignments applied but config could not be saved:", err)
			}

			w := c.App.Writer
			cohorts := make([]string, 0, len(delta.Assignments))
			for cohort := range delta.Assignments {
				cohorts = append(cohorts, cohort)
			}
			sort.Strings(cohorts)
			for _, cohort := range cohorts {
				fmt.Fprintf(w, "%s: %d assignments\n", cohort, len(delta.Assignments[cohort]))
			}
			fmt.Fprintf(w, "teachers: %s\n", strings.Join(delta.Teachers, ", "))
			if delta.Skipped > 0 {
				fmt.Fprintf(w, "skipped lines: %d\n", delta.Skipped)
			}
			return nil
		},
	}
}

func colorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "colors",
		Usage: "Show or change event colors per category.",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Print the color of every category.",
				Action: func(c *cli.Context) error {
					svc, _ := openService(c)
					p := svc.Palette()
					for _, cat := range model.Categories {
						fmt.Fprintf(c.App.Writer, "%-12s %s\n", cat, p.Color(cat))
					}
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "Set the color of one category.",
				ArgsUsage: "CATEGORY #rrggbb",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return errors.New("colors set takes CATEGORY and #rrggbb")
					}
					svc, _ := openService(c)
					err := svc.SetColor(c.Args().Get(0), c.Args().Get(1))
					if errors.Is(err, service.ErrConfigIO) {
						fmt.Fprintln(c.App.ErrWriter, "warning: color applied but config could not be saved:", err)
						return nil
					}
					return err
				},
			},
		},
	}
}

// queryFlags are shared by the commands that derive events.
func queryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "year", Usage: "Year of the month to show"},
		&cli.IntFlag{Name: "month", Usage: "Month (1-12) to show"},
		&cli.StringFlag{Name: "start", Usage: "Range start (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "end", Usage: "Range end (YYYY-MM-DD)"},
		&cli.StringSliceFlag{Name: "cohort", Usage: "Cohort to include (repeatable; default all)"},
		&cli.StringSliceFlag{Name: "unit", Usage: "Unit filter (repeatable)"},
		&cli.StringSliceFlag{Name: "teacher", Usage: "Teacher filter (repeatable; \"Unassigned\" matches events without one)"},
	}
}

func buildQuery(c *cli.Context, svc *service.Service) (derive.Query, error) {
	q := derive.Query{
		Units:    nonEmpty(c.StringSlice("unit")),
		Teachers: nonEmpty(c.StringSlice("teacher")),
	}

	switch {
	case c.IsSet("start") || c.IsSet("end"):
		a, err := time.Parse(model.DateLayout, c.String("start"))
		if err != nil {
			return q, fmt.Errorf("invalid --start %q", c.String("start"))
		}
		b, err := time.Parse(model.DateLayout, c.String("end"))
		if err != nil {
			return q, fmt.Errorf("invalid --end %q", c.String("end"))
		}
		if b.Before(a) {
			return q, errors.New("--end is before --start")
		}
		q.Period = model.RangePeriod(a, b)
	case c.IsSet("year") || c.IsSet("month"):
		m := c.Int("month")
		if c.Int("year") < 1 || m < 1 || m > 12 {
			return q, errors.New("--year and --month (1-12) must be given together")
		}
		q.Period = model.MonthPeriod(c.Int("year"), time.Month(m))
	default:
		p, err := svc.DefaultPeriod()
		if err != nil {
			return q, err
		}
		q.Period = p
	}

	// An explicit but blank --cohort selects nothing.
	if c.IsSet("cohort") {
		q.Cohorts = nonEmpty(c.StringSlice("cohort"))
		return q, nil
	}
	all, err := svc.AllCohorts()
	if err != nil {
		return q, err
	}
	q.Cohorts = all
	return q, nil
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Print derived calendar events.",
		Flags: append(queryFlags(),
			&cli.StringFlag{Name: "format", Value: "json", Usage: "json or ics"},
			&cli.StringFlag{Name: "out", Usage: "Output file (default stdout)"},
		),
		Action: func(c *cli.Context) error {
			svc, _ := openService(c)
			q, err := buildQuery(c, svc)
			if err != nil {
				return err
			}
			events, skipped, err := svc.Events(q)
			if errors.Is(err, derive.ErrNoCohorts) {
				fmt.Fprintln(c.App.Writer, "no cohorts selected")
				return nil
			}
			if err != nil {
				return err
			}
			if skipped > 0 {
				appLog.Warn("stored rows skipped", "count", skipped)
			}

			var data []byte
			switch c.String("format") {
			case "json":
				data, err = json.MarshalIndent(events, "", "  ")
				if err != nil {
					return err
				}
				data = append(data, '\n')
			case "ics":
				data = []byte(ics.BuildCalendar(svc.ICSName(), events, time.Now()))
			default:
				return fmt.Errorf("unknown format %q", c.String("format"))
			}
			return writeOutput(c, data)
		},
	}
}

func tableCommand() *cli.Command {
	return &cli.Command{
		Name:  "table",
		Usage: "Print the date-by-cohort table view.",
		Flags: append(queryFlags(),
			&cli.StringFlag{Name: "format", Value: "text", Usage: "text, xlsx or pdf"},
			&cli.StringFlag{Name: "out", Usage: "Output file (default stdout)"},
		),
		Action: func(c *cli.Context) error {
			svc, _ := openService(c)
			q, err := buildQuery(c, svc)
			if err != nil {
				return err
			}
			tbl, _, err := svc.Table(q)
			if errors.Is(err, derive.ErrNoCohorts) {
				fmt.Fprintln(c.App.Writer, "no cohorts selected")
				return nil
			}
			if err != nil {
				return err
			}

			var data []byte
			switch c.String("format") {
			case "text":
				data = []byte(export.TableText(tbl))
			case "xlsx":
				data, err = export.TableXLSX(tbl)
			case "pdf":
				title := q.Period.Start.Format(model.DateLayout) + " to " + q.Period.End.Format(model.DateLayout)
				data, err = export.TablePDF(tbl, title)
			default:
				return fmt.Errorf("unknown format %q", c.String("format"))
			}
			if err != nil {
				return err
			}
			return writeOutput(c, data)
		},
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish derived events to a CalDAV calendar (CALDAV_URL, CALDAV_USERNAME, CALDAV_PASSWORD, CALDAV_CALENDAR_PATH).",
		Flags: queryFlags(),
		Action: func(c *cli.Context) error {
			dav, err := caldav.ConfigFromEnv()
			if err != nil {
				return err
			}
			svc, _ := openService(c)
			q, err := buildQuery(c, svc)
			if err != nil {
				return err
			}
			events, _, err := svc.Events(q)
			if errors.Is(err, derive.ErrNoCohorts) {
				fmt.Fprintln(c.App.Writer, "no cohorts selected")
				return nil
			}
			if err != nil {
				return err
			}

			pub, err := caldav.NewPublisher(nil, dav)
			if err != nil {
				return err
			}
			n, err := pub.Publish(c.Context, events)
			fmt.Fprintf(c.App.Writer, "published %d of %d events\n", n, len(events))
			return err
		},
	}
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

func printReport(w io.Writer, rep service.ImportReport) {
	fmt.Fprintf(w, "cohorts: %s\n", strings.Join(rep.Cohorts, ", "))
	fmt.Fprintf(w, "entries added: %d\n", rep.Added)
	if rep.Skipped > 0 {
		fmt.Fprintf(w, "rows skipped: %d\n", rep.Skipped)
	}
}

func readInput(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.New("expected one file argument (\"-\" for stdin)")
	}
	name := c.Args().First()
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(c.App.Reader)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeOutput(c *cli.Context, data []byte) error {
	out := c.String("out")
	if out == "" || out == "-" {
		_, err := c.App.Writer.Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	appLog.Info("output written", "path", out, "bytes", len(data))
	return nil
}
