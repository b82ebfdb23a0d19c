package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alarmfox/perftest/internal/codec"
	"github.com/alarmfox/perftest/internal/pbench"
	"github.com/alarmfox/perftest/internal/telemetry"
	"go.uber.org/zap"
)

// clientStreamBody carries the whole client stream in one request body.
type clientStreamBody struct {
	Messages []pbench.TestRequest `json:"messages"`
}

type errorBody struct {
	Error string `json:"error"`
}

type healthBody struct {
	Status    string           `json:"status"`
	Timestamp pbench.Timestamp `json:"timestamp"`
}

func (s *Server) unaryHandler(w http.ResponseWriter, r *http.Request) {
	var req pbench.TestRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.service.Unary(r.Context(), &req)
	s.reply(w, resp, err)
}

func (s *Server) clientStreamHandler(w http.ResponseWriter, r *http.Request) {
	var body clientStreamBody
	if !s.decode(w, r, &body) {
		return
	}
	resp, err := s.service.ClientStream(r.Context(), pbench.NewSliceReceiver(body.Messages))
	s.reply(w, resp, err)
}

// bidirectionalHandler returns the request body untouched once it parses as
// JSON.
func (s *Server) bidirectionalHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !codec.Valid(body) {
		s.writeError(w, fmt.Errorf("%w: body is not valid JSON", pbench.ErrMalformedInput))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) pingHandler(w http.ResponseWriter, r *http.Request) {
	var req pbench.PingRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.service.PingPong(r.Context(), &req)
	s.reply(w, resp, err)
}

func (s *Server) batchHandler(w http.ResponseWriter, r *http.Request) {
	var req pbench.BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.service.Batch(r.Context(), &req)
	s.reply(w, resp, err)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthBody{
		Status:    "healthy",
		Timestamp: pbench.NewTimestamp(time.Now()),
	})
}

// streamHandler serves the server streaming pattern as server-sent events,
// one "data: <json>" event per generated response.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseStreamQuery(r.URL.Query())
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, errors.New("streaming unsupported by response writer"))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	out := &eventSender{server: s, w: w, flusher: flusher}
	err = s.service.ServerStream(r.Context(), req, out)
	switch {
	case err == nil:
	case errors.Is(err, pbench.ErrTransportWrite), errors.Is(err, context.Canceled):
		s.logger.Debug("event stream aborted", zap.Int("sent", out.sent), zap.Error(err))
	default:
		s.logger.Warn("event stream failed", zap.Int("sent", out.sent), zap.Error(err))
	}
}

// Stream query parameters; a missing parameter counts as 0.
const (
	paramMessageCount  = "message_count"
	paramIntervalMs    = "interval_ms"
	paramPayloadSize   = "payload_size"
	paramNumStructures = "num_structures"
)

func parseStreamQuery(q url.Values) (*pbench.StreamRequest, error) {
	req := new(pbench.StreamRequest)
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{paramMessageCount, &req.MessageCount},
		{paramIntervalMs, &req.IntervalMs},
		{paramPayloadSize, &req.PayloadSize},
		{paramNumStructures, &req.ItemCount},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", pbench.ErrMalformedInput, p.name, err)
		}
		*p.dst = v
	}
	return req, nil
}

// eventSender writes each response as one event and flushes it. A write
// error means the client is gone.
type eventSender struct {
	server  *Server
	w       io.Writer
	flusher http.Flusher
	sent    int
}

func (e *eventSender) Send(resp *pbench.TestResponse) error {
	buf := e.server.buffers.Get()
	defer e.server.buffers.Put(buf)

	data, err := codec.Marshal(resp)
	if err != nil {
		return err
	}
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")

	if _, err := e.w.Write(buf.Bytes()); err != nil {
		return err
	}
	e.flusher.Flush()
	e.sent++
	e.server.metrics.StreamMessage(telemetry.TransportHTTP, "/stream", telemetry.DirectionSent)
	return nil
}

// decode reads a JSON body into v and answers 400 or 413 itself when it
// cannot.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		s.writeError(w, err)
		return false
	}
	if err := codec.Unmarshal(body, v); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", pbench.ErrMalformedInput, err))
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, v any, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, code, errorBody{Error: err.Error()})
}

func statusCode(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, pbench.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.Canceled):
		// client closed request
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	if err := codec.Encode(buf, v); err != nil {
		s.logger.Error("encode response", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}
