package reporting

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

const (
	ReportFilename = "UI_Automation_Report.html"
	DefaultTitle   = "UI Automation Execution Results"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// Level tags a report log line.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
	LevelPass Level = "pass"
	LevelFail Level = "fail"
	LevelSkip Level = "skip"
)

// LogLine is one line of an entry's log.
type LogLine struct {
	Time       time.Time
	Level      Level
	Message    string
	Image      template.URL
	ImageTitle string
}

// Entry is the report section for one test. All methods are safe for concurrent use.
type Entry struct {
	report *Report

	Name     string
	Author   string
	Category string
	Status   Level
	Logs     []LogLine
}

func (e *Entry) Info(msg string) { e.log(LevelInfo, msg) }
func (e *Entry) Warn(msg string) { e.log(LevelWarn, msg) }
func (e *Entry) Pass(msg string) { e.log(LevelPass, msg) }
func (e *Entry) Fail(msg string) { e.log(LevelFail, msg) }
func (e *Entry) Skip(msg string) { e.log(LevelSkip, msg) }

// AttachScreenshot adds an inline base64 PNG to the entry.
func (e *Entry) AttachScreenshot(b64, title string) {
	if b64 == "" {
		return
	}
	e.report.mu.Lock()
	defer e.report.mu.Unlock()
	e.Logs = append(e.Logs, LogLine{
		Time:       e.report.now(),
		Level:      LevelInfo,
		Message:    title,
		Image:      template.URL("data:image/png;base64," + b64),
		ImageTitle: title,
	})
}

func (e *Entry) log(level Level, msg string) {
	e.report.mu.Lock()
	defer e.report.mu.Unlock()
	e.Logs = append(e.Logs, LogLine{
		Time:    e.report.now(),
		Level:   level,
		Message: stripansi.Strip(msg),
	})
	switch level {
	case LevelPass, LevelFail, LevelSkip:
		e.Status = level
	}
}

// Report accumulates entries in memory and renders them once, on Flush.
type Report struct {
	dir      string
	title    string
	author   string
	category string
	now      func() time.Time
	tmpl     *template.Template

	mu      sync.Mutex
	entries []*Entry
	byKey   map[string]*Entry
}

// ReportConfig configures a Report.
type ReportConfig struct {
	Dir      string
	Title    string
	Author   string
	Category string
	Now      func() time.Time
}

func NewReport(cfg ReportConfig) (*Report, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("report directory is required")
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	tmpl, err := template.New("report.html.tmpl").Funcs(template.FuncMap{
		"formatTime":  func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
		"formatClock": func(t time.Time) string { return t.Format("15:04:05") },
	}).ParseFS(templateFS, "templates/report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}
	return &Report{
		dir:      cfg.Dir,
		title:    cfg.Title,
		author:   cfg.Author,
		category: cfg.Category,
		now:      cfg.Now,
		tmpl:     tmpl,
		byKey:    make(map[string]*Entry),
	}, nil
}

// CreateEntry returns the entry registered under key, creating it on first use.
func (r *Report) CreateEntry(key, name string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byKey[key]; ok {
		return e
	}
	e := &Entry{
		report:   r,
		Name:     name,
		Author:   r.author,
		Category: r.category,
	}
	r.byKey[key] = e
	r.entries = append(r.entries, e)
	return e
}

// Entry returns the entry registered under key, or nil.
func (r *Report) Entry(key string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byKey[key]
}

// Path returns where Flush writes the report.
func (r *Report) Path() string {
	return filepath.Join(r.dir, ReportFilename)
}

type reportStats struct {
	Total, Passed, Failed, Skipped int
}

type reportData struct {
	Title     string
	Generated time.Time
	Stats     reportStats
	Entries   []Entry
}

// Flush renders every entry and writes the report file, replacing any previous one.
func (r *Report) Flush() (string, error) {
	r.mu.Lock()
	data := reportData{
		Title:     r.title,
		Generated: r.now(),
		Entries:   make([]Entry, 0, len(r.entries)),
	}
	for _, e := range r.entries {
		cp := *e
		cp.Logs = append([]LogLine(nil), e.Logs...)
		data.Entries = append(data.Entries, cp)
		data.Stats.Total++
		switch e.Status {
		case LevelPass:
			data.Stats.Passed++
		case LevelFail:
			data.Stats.Failed++
		case LevelSkip:
			data.Stats.Skipped++
		}
	}
	r.mu.Unlock()

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := r.Path()
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// StatusLevel maps a verdict status to its report level.
func StatusLevel(s types.TestStatus) Level {
	switch s {
	case types.TestStatusPass:
		return LevelPass
	case types.TestStatusFail:
		return LevelFail
	case types.TestStatusSkip:
		return LevelSkip
	}
	return LevelInfo
}
