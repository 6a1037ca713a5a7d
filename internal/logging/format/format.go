// Package format turns raw application lines into log entries.
package format

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
)

const DefaultLayout = "{{.Line}}"

// Event is a raw line as read from its source.
type Event struct {
	Time   time.Time
	Line   string
	File   string
	Labels map[string]string
}

type Formatter interface {
	Format(ev Event) logging.LogEntry
}

// TemplateFormatter renders events with a text/template layout and caps the
// message at maxBytes, cutting on a rune boundary.
type TemplateFormatter struct {
	tmpl     *template.Template
	maxBytes int
}

func NewTemplateFormatter(layout string, maxBytes int) (*TemplateFormatter, error) {
	if layout == "" {
		layout = DefaultLayout
	}
	tmpl, err := template.New("layout").Option("missingkey=zero").Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	return &TemplateFormatter{tmpl: tmpl, maxBytes: maxBytes}, nil
}

func (f *TemplateFormatter) Format(ev Event) logging.LogEntry {
	var buf bytes.Buffer
	msg := ev.Line
	if err := f.tmpl.Execute(&buf, ev); err == nil {
		msg = buf.String()
	}

	return logging.LogEntry{
		Timestamp: logging.Millis(ev.Time),
		Message:   truncate(msg, f.maxBytes),
	}
}

func truncate(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
