package pbench

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type batchSlot struct {
	resp TestResponse
	err  error
}

// Batch echoes every sub-request, sequentially or with one goroutine per
// sub-request. Each goroutine owns exactly one slot, so responses come back
// in request order whatever the completion order. A failing sub-request only
// marks its own slot.
func (s *Service) Batch(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	start := s.metrics.Now()
	slots := make([]batchSlot, len(req.Requests))

	if req.ParallelProcess {
		var wg sync.WaitGroup
		for i := range req.Requests {
			wg.Add(1)
			go func() {
				defer wg.Done()
				slots[i].resp, slots[i].err = s.processItem(&req.Requests[i])
			}()
		}
		wg.Wait()
	} else {
		for i := range req.Requests {
			slots[i].resp, slots[i].err = s.processItem(&req.Requests[i])
		}
	}

	resp := &BatchResponse{
		Responses: make([]TestResponse, len(slots)),
	}
	for i, slot := range slots {
		resp.Responses[i] = slot.resp
		if slot.err != nil {
			resp.Responses[i].Error = slot.err.Error()
			resp.Failed++
			s.logger.Warn("batch item failed",
				zap.Int("index", i),
				zap.String("request_id", slot.resp.RequestID),
				zap.Error(slot.err))
		}
	}

	end := s.metrics.Now()
	resp.BatchMetrics = s.metrics.Collect(start, end)
	return resp, nil
}

// processItem runs the item transformation and turns a panic into a slot
// error.
func (s *Service) processItem(req *TestRequest) (resp TestResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = TestResponse{RequestID: req.RequestID, Payload: []KeyValueItem{}}
			err = fmt.Errorf("%w: %v", ErrBatchItem, r)
		}
	}()

	transform := s.transform
	if transform == nil {
		transform = s.echoItem
	}
	resp, err = transform(req)
	if err != nil {
		return TestResponse{RequestID: req.RequestID, Payload: []KeyValueItem{}}, fmt.Errorf("%w: %v", ErrBatchItem, err)
	}
	return resp, nil
}

func (s *Service) echoItem(req *TestRequest) (TestResponse, error) {
	start := s.metrics.Now()
	resp := TestResponse{
		RequestID:  req.RequestID,
		Payload:    echo(req.Payload),
		ReceivedAt: NewTimestamp(start),
	}
	end := s.metrics.Now()
	resp.ProcessedAt = NewTimestamp(end)
	resp.Metrics = s.metrics.Collect(start, end)
	return resp, nil
}
