package sink

import (
	"context"
	"io"
	"log/slog"
	"strconv"

	"github.com/r-smith/sshlure/internal/config"
	"github.com/r-smith/sshlure/internal/eventdata"
)

// JSONLog writes each record as one JSON object per line.
type JSONLog struct {
	handler  slog.Handler
	closer   io.Closer
	hostname string
}

// NewJSONLog returns a JSONLog writing to w. If w is an io.Closer, Close
// closes it.
func NewJSONLog(w io.Writer) *JSONLog {
	l := &JSONLog{
		handler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Remove 'message' and 'log level' fields from output.
				if a.Key == slog.MessageKey || a.Key == slog.LevelKey {
					return slog.Attr{}
				}
				return a
			},
		}),
		hostname: config.Hostname(),
	}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	return l
}

// Record writes rec. The log entry's time is the session's accept time.
func (l *JSONLog) Record(rec eventdata.AttackRecord) error {
	r := slog.NewRecord(rec.Time, slog.LevelInfo, "", 0)
	r.AddAttrs(
		slog.String("id", rec.ID),
		slog.String("event_type", rec.AttackType),
		slog.String("session_id", rec.SessionID),
		slog.String("source_ip", rec.SourceIP.String()),
		slog.String("source_port", strconv.Itoa(int(rec.SourcePort))),
		slog.String("server_ip", rec.ServerIP.String()),
		slog.String("server_port", strconv.Itoa(int(rec.ServerPort))),
		slog.String("server_name", l.hostname),
		slog.Group("event_details", detailAttrs(rec)...),
		slog.Group("location",
			slog.String("country", rec.Location.Country),
			slog.String("city", rec.Location.City),
			slog.Float64("latitude", rec.Location.Latitude),
			slog.Float64("longitude", rec.Location.Longitude),
			slog.String("provider", rec.Location.Provider),
		),
	)
	if rec.Proxy != nil {
		attrs := []any{
			slog.Bool("parsed", rec.Proxy.Parsed),
			slog.String("ip", rec.Proxy.IP.String()),
		}
		if rec.Proxy.Error != "" {
			attrs = append(attrs, slog.String("error", rec.Proxy.Error))
		}
		r.AddAttrs(slog.Group("source_ip_proxy", attrs...))
	}
	return l.handler.Handle(context.Background(), r)
}

func detailAttrs(rec eventdata.AttackRecord) []any {
	attrs := []any{slog.Int("attempts", rec.Attempts)}
	if rec.Credentials != nil {
		attrs = append(attrs,
			slog.String("username", rec.Credentials.Username),
			slog.String("password", rec.Credentials.Password),
		)
	}
	if rec.ClientVersion != "" {
		attrs = append(attrs, slog.String("ssh_client", rec.ClientVersion))
	}
	return attrs
}

// Close closes the underlying writer, if it can be closed.
func (l *JSONLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
