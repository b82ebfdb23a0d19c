package pbench

import (
	"fmt"
	"time"
)

// Timestamp is a wall-clock instant split into seconds and nanoseconds since
// the Unix epoch.
type Timestamp struct {
	Seconds int64 `json:"seconds" yaml:"seconds"`
	Nanos   int32 `json:"nanos" yaml:"nanos"`
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Seconds: t.Unix(),
		Nanos:   int32(t.Nanosecond()),
	}
}

func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos))
}

// Before reports whether t is strictly earlier than o.
func (t Timestamp) Before(o Timestamp) bool {
	if t.Seconds != o.Seconds {
		return t.Seconds < o.Seconds
	}
	return t.Nanos < o.Nanos
}

func (t Timestamp) IsZero() bool {
	return t.Seconds == 0 && t.Nanos == 0
}

type ProcessingMetrics struct {
	ProcessingTimeUs int64   `json:"processing_time_us"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	CPUUsage         float64 `json:"cpu_usage"`
}

func (m ProcessingMetrics) ProcessingTime() time.Duration {
	return time.Duration(m.ProcessingTimeUs) * time.Microsecond
}

type KeyValueItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type TestRequest struct {
	RequestID   string         `json:"request_id"`
	Timestamp   *Timestamp     `json:"timestamp,omitempty"`
	PayloadSize PayloadSize    `json:"payload_size,omitempty"`
	Payload     []KeyValueItem `json:"payload"`
}

type TestResponse struct {
	RequestID   string            `json:"request_id"`
	Payload     []KeyValueItem    `json:"payload"`
	ReceivedAt  Timestamp         `json:"received_at"`
	ProcessedAt Timestamp         `json:"processed_at"`
	Metrics     ProcessingMetrics `json:"metrics"`
	Error       string            `json:"error,omitempty"`
}

type StreamRequest struct {
	MessageCount int `json:"message_count"`
	IntervalMs   int `json:"interval_ms"`
	PayloadSize  int `json:"payload_size"`
	ItemCount    int `json:"item_count"`
}

func (r *StreamRequest) Interval() time.Duration {
	return time.Duration(r.IntervalMs) * time.Millisecond
}

// Validate rejects stream parameters no generator can honour.
func (r *StreamRequest) Validate() error {
	switch {
	case r.MessageCount < 0:
		return fmt.Errorf("%w: message_count must be >= 0, got %d", ErrMalformedInput, r.MessageCount)
	case r.IntervalMs < 0:
		return fmt.Errorf("%w: interval_ms must be >= 0, got %d", ErrMalformedInput, r.IntervalMs)
	case r.PayloadSize < 0:
		return fmt.Errorf("%w: payload_size must be >= 0, got %d", ErrMalformedInput, r.PayloadSize)
	case r.ItemCount < 0:
		return fmt.Errorf("%w: item_count must be >= 0, got %d", ErrMalformedInput, r.ItemCount)
	}
	return nil
}

type StreamResponse struct {
	MessagesProcessed int64             `json:"messages_processed"`
	AggregateMetrics  ProcessingMetrics `json:"aggregate_metrics"`
}

type PingRequest struct {
	ClientID      string         `json:"client_id"`
	SendTimestamp Timestamp      `json:"send_timestamp"`
	Payload       []KeyValueItem `json:"payload"`
}

type PongResponse struct {
	ClientID        string            `json:"client_id"`
	ClientTimestamp Timestamp         `json:"client_timestamp"`
	ServerTimestamp Timestamp         `json:"server_timestamp"`
	Payload         []KeyValueItem    `json:"payload"`
	Metrics         ProcessingMetrics `json:"metrics"`
}

type BatchRequest struct {
	Requests        []TestRequest `json:"requests"`
	ParallelProcess bool          `json:"parallel_process"`
}

type BatchResponse struct {
	Responses    []TestResponse    `json:"responses"`
	BatchMetrics ProcessingMetrics `json:"batch_metrics"`
	Failed       int               `json:"failed"`
}
