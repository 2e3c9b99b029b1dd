package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aspft/authgate/endpoint"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-Id"

// maxRequestIDLen bounds client-supplied request ids.
const maxRequestIDLen = 128

// RequestLogger assigns each request an id, attaches a child logger to the
// request context and logs one line per request when it completes.
//
// Downstream code retrieves the logger with zerolog.Ctx(r.Context()).
type RequestLogger struct {
	Logger zerolog.Logger
	now    func() time.Time
}

// NewRequestLogger returns a RequestLogger writing to l.
func NewRequestLogger(l zerolog.Logger) *RequestLogger {
	return &RequestLogger{Logger: l, now: time.Now}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Process implements endpoint.Processor.
func (p *RequestLogger) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLen {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)

	l := p.Logger.With().
		Str("request_id", id).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()
	*r = *r.WithContext(l.WithContext(r.Context()))

	start := p.now()
	rec := &statusRecorder{ResponseWriter: w}
	err := next(rec, r)

	status := rec.status
	var ev *zerolog.Event
	if err != nil {
		var env endpoint.ErrorEnvelope
		status, env = endpoint.Envelope(err)
		if status >= http.StatusInternalServerError {
			ev = l.Error()
		} else if status >= http.StatusBadRequest {
			ev = l.Warn()
		} else {
			ev = l.Info()
		}
		ev = ev.Err(err).Str("kind", env.Kind)
	} else {
		if status == 0 {
			status = http.StatusOK
		}
		ev = l.Info()
	}
	ev.Int("status", status).Dur("duration", p.now().Sub(start)).Msg("request")
	return err
}

var _ endpoint.Processor = (*RequestLogger)(nil)
