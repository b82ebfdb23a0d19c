package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alarmfox/perftest/internal/pbench"
	"gopkg.in/yaml.v3"
)

const (
	scenarioLatency      = "latency"
	scenarioThroughput   = "throughput"
	scenarioStream       = "stream"
	scenarioClientStream = "client_stream"
	scenarioBidi         = "bidi"
	scenarioBatch        = "batch"
)

// Plan lists the scenarios a run executes, in order.
type Plan struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Scenario configures one benchmark. Fields a scenario does not use are
// ignored.
type Scenario struct {
	Name         string        `yaml:"name"`
	Iterations   int           `yaml:"iterations,omitempty"`
	Concurrency  int           `yaml:"concurrency,omitempty"`
	Duration     time.Duration `yaml:"duration,omitempty"`
	Rate         float64       `yaml:"rate,omitempty"`
	PayloadSizes []string      `yaml:"payload_sizes,omitempty"`
	Messages     int           `yaml:"messages,omitempty"`
	IntervalMs   int           `yaml:"interval_ms,omitempty"`
	ItemCount    int           `yaml:"item_count,omitempty"`
	ValueSize    int           `yaml:"value_size,omitempty"`
	BatchSizes   []int         `yaml:"batch_sizes,omitempty"`
}

// DefaultPlan runs every scenario once with moderate settings.
func DefaultPlan() Plan {
	return Plan{Scenarios: []Scenario{
		{Name: scenarioLatency, Iterations: 1000, Concurrency: 1, PayloadSizes: []string{"SMALL"}},
		{Name: scenarioThroughput, Duration: 10 * time.Second, Concurrency: 1, PayloadSizes: []string{"SMALL", "MEDIUM", "LARGE"}},
		{Name: scenarioStream, Messages: 1000, IntervalMs: 10, ItemCount: 1},
		{Name: scenarioClientStream, Messages: 1000, PayloadSizes: []string{"SMALL"}},
		{Name: scenarioBidi, Messages: 1000, PayloadSizes: []string{"SMALL"}},
		{Name: scenarioBatch, BatchSizes: []int{10, 50, 100}, PayloadSizes: []string{"SMALL"}},
	}}
}

func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, err
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

func (p Plan) Validate() error {
	if len(p.Scenarios) == 0 {
		return fmt.Errorf("no scenarios")
	}
	for i, s := range p.Scenarios {
		switch s.Name {
		case scenarioLatency, scenarioThroughput, scenarioStream, scenarioClientStream, scenarioBidi, scenarioBatch:
		default:
			return fmt.Errorf("scenario %d: unknown name %q", i, s.Name)
		}
		if _, err := s.payloadSizes(); err != nil {
			return fmt.Errorf("scenario %d (%s): %w", i, s.Name, err)
		}
		if s.Name == scenarioThroughput && s.Duration <= 0 {
			return fmt.Errorf("scenario %d (%s): duration must be > 0", i, s.Name)
		}
	}
	return nil
}

// payloadSizes resolves the size names; none means SMALL.
func (s Scenario) payloadSizes() ([]pbench.PayloadSize, error) {
	if len(s.PayloadSizes) == 0 {
		return []pbench.PayloadSize{pbench.PayloadSmall}, nil
	}
	out := make([]pbench.PayloadSize, 0, len(s.PayloadSizes))
	for _, name := range s.PayloadSizes {
		size, err := pbench.ParsePayloadSize(name)
		if err != nil {
			return nil, err
		}
		out = append(out, size)
	}
	return out, nil
}
