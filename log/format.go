package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

func qualify(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

// appendAttr writes " key=value", flattening groups into dotted keys.
func appendAttr(buf *bytes.Buffer, group string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		g := group
		if attr.Key != "" {
			g = qualify(group, attr.Key)
		}
		for _, a := range attr.Value.Group() {
			appendAttr(buf, g, a)
		}
		return
	}

	buf.WriteByte(' ')
	buf.WriteString(qualify(group, attr.Key))
	buf.WriteByte('=')
	buf.WriteString(quoteIfNeeded(formatValue(attr.Value)))
}

// formatValue renders a resolved attribute value.
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		switch x := v.Any().(type) {
		case nil:
			return "<nil>"
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		default:
			if data, err := json.Marshal(x); err == nil {
				return string(data)
			}
			return fmt.Sprintf("%v", x)
		}
	}
	return fmt.Sprintf("%v", v.Any())
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
