// Package wsengine drives a remote test agent over HTTP and reads run events
// from its websocket stream.
//
// Agent API:
//
//	GET  /version                    -> {"version": "..."}
//	POST /runs                       -> blocks until the run finished
//	GET  /runs/{reporterId}/coverage -> HTML coverage report
//	GET  /runs/{reporterId}/events   -> websocket, one JSON event per text message
//
// The agent buffers the events of a run by reporter id, so the stream may be
// opened after the run was posted.
package wsengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

const (
	DefaultRetryMax         = 3
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxResponseBytes = 64 << 20
)

// Config holds the agent address and client settings
type Config struct {
	URL              string
	Token            string
	RetryMax         int
	RetryWaitMin     time.Duration
	RetryWaitMax     time.Duration
	HandshakeTimeout time.Duration
	// MaxResponseBytes bounds agent responses, coverage reports included
	MaxResponseBytes int64
}

// RunRequest is the body of POST /runs
type RunRequest struct {
	ReporterID string   `json:"reporterId"`
	Paths      []string `json:"paths"`
	Coverage   bool     `json:"coverage,omitempty"`
	Schemas    []string `json:"schemas,omitempty"`
	Includes   []string `json:"includes,omitempty"`
	Excludes   []string `json:"excludes,omitempty"`
}

// ErrResponseTooLarge is returned for a response body over the size limit
var ErrResponseTooLarge = errors.New("response body too large")

type versionResponse struct {
	Version string `json:"version"`
}

// Engine is a client of a remote test agent
type Engine struct {
	base    *url.URL
	token   string
	client  *retryablehttp.Client
	dialer  *websocket.Dialer
	maxBody int64
	log     log.Logger
}

var _ engine.Engine = (*Engine)(nil)

func New(cfg Config, lgr log.Logger) (*Engine, error) {
	if cfg.URL == "" {
		return nil, errors.New("wsengine: url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("wsengine: parse url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("wsengine: unsupported scheme %q", base.Scheme)
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = DefaultRetryMax
	if cfg.RetryMax > 0 {
		client.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.CheckRetry = retryPolicy
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			lgr.Debug("Retrying agent request", "method", req.Method, "url", req.URL.String(), "attempt", attempt)
		}
	}

	return &Engine{
		base:    base,
		token:   cfg.Token,
		client:  client,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		maxBody: cfg.MaxResponseBytes,
		log:     lgr,
	}, nil
}

type sendOnceKey struct{}

// retryPolicy retries reads only. A run request starts a test run on the agent,
// so it is sent exactly once.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if once, _ := ctx.Value(sendOnceKey{}).(bool); once {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (e *Engine) endpoint(segments ...string) string {
	u := *e.base
	u.Path = e.base.Path + "/" + strings.Join(segments, "/")
	return u.String()
}

func (e *Engine) do(ctx context.Context, method string, target string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	if method != http.MethodGet {
		ctx = context.WithValue(ctx, sendOnceKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	res, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, e.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(data)) > e.maxBody {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, e.maxBody)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", res.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

func (e *Engine) Version(ctx context.Context) (string, error) {
	data, err := e.do(ctx, http.MethodGet, e.endpoint("version"), nil)
	if err != nil {
		return "", fmt.Errorf("wsengine: version: %w", err)
	}
	var res versionResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("wsengine: version: %w", err)
	}
	return res.Version, nil
}

func (e *Engine) RunTests(ctx context.Context, reporterID string, paths []string) error {
	return e.run(ctx, RunRequest{ReporterID: reporterID, Paths: paths})
}

func (e *Engine) RunTestsWithCoverage(ctx context.Context, reporterID string, paths []string, opts engine.CoverageOptions) error {
	return e.run(ctx, RunRequest{
		ReporterID: reporterID,
		Paths:      paths,
		Coverage:   true,
		Schemas:    opts.Schemas,
		Includes:   opts.Includes,
		Excludes:   opts.Excludes,
	})
}

func (e *Engine) run(ctx context.Context, req RunRequest) error {
	if _, err := e.do(ctx, http.MethodPost, e.endpoint("runs"), req); err != nil {
		return fmt.Errorf("wsengine: run %s: %w", req.ReporterID, err)
	}
	return nil
}

func (e *Engine) CoverageReport(ctx context.Context, reporterID string) (string, error) {
	data, err := e.do(ctx, http.MethodGet, e.endpoint("runs", url.PathEscape(reporterID), "coverage"), nil)
	if err != nil {
		return "", fmt.Errorf("wsengine: coverage report %s: %w", reporterID, err)
	}
	return string(data), nil
}

func (e *Engine) Events(reporterID string) engine.EventSource {
	return &wsSource{engine: e, reporterID: reporterID}
}

// eventsURL returns the websocket address of a run's event stream
func (e *Engine) eventsURL(reporterID string) string {
	u := *e.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = e.base.Path + "/runs/" + url.PathEscape(reporterID) + "/events"
	return u.String()
}

type wsSource struct {
	engine     *Engine
	reporterID string
}

func (s *wsSource) Consume(ctx context.Context, onEvent func(types.Event)) error {
	header := http.Header{}
	if s.engine.token != "" {
		header.Set("Authorization", "Bearer "+s.engine.token)
	}
	conn, _, err := s.engine.dialer.DialContext(ctx, s.engine.eventsURL(s.reporterID), header) // nolint:bodyclose
	if err != nil {
		return fmt.Errorf("wsengine: dial events: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return engine.ErrStreamClosed
			}
			return fmt.Errorf("wsengine: read event: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if engine.Dispatch(s.engine.log, msg, onEvent) {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
				s.engine.log.Debug("Failed to close event stream", "err", err)
			}
			return nil
		}
	}
}
