package rest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alarmfox/perftest/internal/codec"
	"github.com/alarmfox/perftest/internal/pbench"
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

// Client calls the HTTP endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxEvent   int
}

var _ pbench.Client = (*Client)(nil)

// NewClient targets baseURL, e.g. "http://localhost:8080". A nil httpClient
// uses a dedicated client with default settings.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		maxEvent:   DefaultMaxBodySize,
	}
}

func (c *Client) Transport() string {
	return "http"
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) Unary(ctx context.Context, req *pbench.TestRequest) (*pbench.TestResponse, error) {
	out := new(pbench.TestResponse)
	if err := c.post(ctx, "/unary", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PingPong(ctx context.Context, req *pbench.PingRequest) (*pbench.PongResponse, error) {
	out := new(pbench.PongResponse)
	if err := c.post(ctx, "/ping", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Batch(ctx context.Context, req *pbench.BatchRequest) (*pbench.BatchResponse, error) {
	out := new(pbench.BatchResponse)
	if err := c.post(ctx, "/batch", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClientStream sends every message in a single request body.
func (c *Client) ClientStream(ctx context.Context, reqs []pbench.TestRequest) (*pbench.StreamResponse, error) {
	if reqs == nil {
		reqs = []pbench.TestRequest{}
	}
	out := new(pbench.StreamResponse)
	if err := c.post(ctx, "/client-stream", &clientStreamBody{Messages: reqs}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Bidi posts every request to the echo endpoint in turn. The echoed body is
// read back as a response, so only request_id and payload are meaningful.
func (c *Client) Bidi(ctx context.Context, reqs []pbench.TestRequest, fn func(*pbench.TestResponse) error) error {
	for i := range reqs {
		out := new(pbench.TestResponse)
		if err := c.post(ctx, "/bidirectional", &reqs[i], out); err != nil {
			return err
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

// ServerStream reads the event stream of GET /stream and calls fn for every
// event. Returning an error from fn closes the stream.
func (c *Client) ServerStream(ctx context.Context, req *pbench.StreamRequest, fn func(*pbench.TestResponse) error) error {
	q := url.Values{}
	q.Set(paramMessageCount, strconv.Itoa(req.MessageCount))
	q.Set(paramIntervalMs, strconv.Itoa(req.IntervalMs))
	q.Set(paramPayloadSize, strconv.Itoa(req.PayloadSize))
	q.Set(paramNumStructures, strconv.Itoa(req.ItemCount))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stream?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), c.maxEvent)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		m := new(pbench.TestResponse)
		if err := codec.Unmarshal([]byte(data), m); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := codec.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := codec.Decode(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e errorBody
	if err := codec.Unmarshal(data, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(data))
	}
	return &StatusError{Code: resp.StatusCode, Message: e.Error}
}
