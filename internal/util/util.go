package util

import (
	"crypto/rand"
	"html"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
)

func newID(prefix string) string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return prefix + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewRunID() string { return newID("run_") }
func NewLogID() string { return newID("rlog_") }
func NewMessageID() string { return newID("msg_") }

func NowUTC() time.Time {
	return time.Now().UTC()
}

// StartOfDay truncates t to midnight in loc; nil loc means UTC.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate replaces {{name}} placeholders with HTML-escaped values. Unknown names are
// left in place.
func RenderTemplate(body string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(body, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			return m
		}
		return html.EscapeString(v)
	})
}
