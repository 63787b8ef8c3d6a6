// Package slogutil provides the slog handler, rotating log files and
// per-subsystem loggers used across chainwatch.
package slogutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LineHandler writes one line per record:
//
//	2024-03-01T12:00:00Z [info] (sweep) Sweep finished | sweepId=... valid=3
//
// The subsystem tag is present only when the logger carries SubsystemKey.
type LineHandler struct {
	out       *lineWriter
	level     slog.Leveler
	subsystem string
	prefix    string // group path, "" or "a.b."
	preformed []byte // " k=v" pairs from WithAttrs
}

// lineWriter serialises writes from handlers derived from one another.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineHandler creates a line handler writing to w.
func NewLineHandler(w io.Writer, opts *slog.HandlerOptions) *LineHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &LineHandler{out: &lineWriter{w: w}, level: level}
}

// Enabled reports whether records at level are written.
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes one record.
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	line := make([]byte, 0, 128+len(h.preformed))
	line = r.Time.UTC().AppendFormat(line, time.RFC3339)
	line = append(line, " ["...)
	line = append(line, levelName(r.Level)...)
	line = append(line, "] "...)

	subsystem := h.subsystem
	var pairs []byte
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == SubsystemKey && h.prefix == "" {
			subsystem = a.Value.String()
			return true
		}
		pairs = appendAttr(pairs, h.prefix, a)
		return true
	})

	if subsystem != "" {
		line = append(line, '(')
		line = append(line, subsystem...)
		line = append(line, ") "...)
	}
	line = append(line, r.Message...)
	if len(h.preformed)+len(pairs) > 0 {
		line = append(line, " |"...)
		line = append(line, h.preformed...)
		line = append(line, pairs...)
	}
	line = append(line, '\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(line)
	return err
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preformed = append([]byte(nil), h.preformed...)
	for _, a := range attrs {
		if a.Key == SubsystemKey && h.prefix == "" {
			next.subsystem = a.Value.String()
			continue
		}
		next.preformed = appendAttr(next.preformed, h.prefix, a)
	}
	return &next
}

// WithGroup returns a handler that qualifies later keys with name.
func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// appendAttr writes " key=value", flattening groups into dotted keys.
func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			buf = appendAttr(buf, inner, ga)
		}
		return buf
	}
	if a.Key == "" {
		return buf
	}
	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return append(buf, formatValue(v)...)
}

func levelName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// formatValue renders a value on one line. Participant id lists such as
// pruned ids come out comma-separated.
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return quoteIfNeeded(v.String())
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		switch x := v.Any().(type) {
		case []string:
			return quoteIfNeeded(strings.Join(x, ","))
		case error:
			return quoteIfNeeded(x.Error())
		case fmt.Stringer:
			return quoteIfNeeded(x.String())
		}
	}
	return fmt.Sprint(v.Any())
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=|") {
		return strconv.Quote(s)
	}
	return s
}
