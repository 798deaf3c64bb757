package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// Transport defaults for synthesis requests.
const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second

	// errorBodyLimit caps how much of an error response is kept.
	errorBodyLimit = 512
)

// HTTPConfig holds configuration for the HTTP source.
type HTTPConfig struct {
	// URL of the speech endpoint
	URL string

	// APIKey is sent as a bearer token. A value already starting with
	// "Bearer " is used as is.
	APIKey string

	// RequestTimeout bounds connecting and waiting for response headers.
	// The body is streamed without a deadline.
	RequestTimeout time.Duration

	// Rate limit requests per minute (0 disables limiting)
	RequestsPerMinute int

	// UserAgent header, optional
	UserAgent string

	Logger *log.Logger
}

// HTTPSource streams synthesis responses from an OpenAI-style speech
// endpoint that answers with a chunked WAV body.
type HTTPSource struct {
	url    string
	apiKey string

	userAgent   string
	client      *http.Client
	rateLimiter *rate.Limiter
	logger      *log.Logger

	mu sync.RWMutex
}

// NewHTTPSource creates a new HTTP synthesis source.
func NewHTTPSource(config HTTPConfig) *HTTPSource {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1)
	}

	return &HTTPSource{
		url:         config.URL,
		apiKey:      config.APIKey,
		userAgent:   config.UserAgent,
		client:      NewHTTPClient(config.RequestTimeout),
		rateLimiter: limiter,
		logger:      logger.WithPrefix("http"),
	}
}

// NewHTTPClient returns a client for streamed responses. There is no overall
// Client.Timeout because that would cut off long audio bodies; timeout
// applies to dialing and to the response headers instead.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   min(timeout, DefaultConnectTimeout),
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// AuthorizationHeader formats key as a bearer token.
func AuthorizationHeader(key string) string {
	if strings.HasPrefix(key, "Bearer ") {
		return key
	}
	return "Bearer " + key
}

// speechRequest is the JSON body of a synthesis call.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	SampleRate     int     `json:"sample_rate"`
	Stream         bool    `json:"stream"`
	Speed          float64 `json:"speed"`
	Gain           float64 `json:"gain"`
}

// Name implements Source.
func (s *HTTPSource) Name() string {
	return "http"
}

// Origin implements Origin.
func (s *HTTPSource) Origin() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// SetEndpoint implements Endpoint.
func (s *HTTPSource) SetEndpoint(url, apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if url != "" {
		s.url = url
	}
	if apiKey != "" {
		s.apiKey = apiKey
	}
}

func (s *HTTPSource) endpoint() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url, s.apiKey
}

// Stream implements Source.
func (s *HTTPSource) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	url, apiKey := s.endpoint()
	if url == "" {
		return nil, &TransportError{Kind: KindConnect, Message: "no API URL configured"}
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &TransportError{Kind: KindRateLimited, Message: "rate limit wait failed", Err: err}
		}
	}

	body, err := json.Marshal(speechRequest{
		Model:          req.Model,
		Input:          req.Text,
		Voice:          req.Voice,
		ResponseFormat: "wav",
		SampleRate:     req.Format.SampleRate,
		Stream:         true,
		Speed:          req.Speed,
		Gain:           req.Gain,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Kind: KindConnect, Message: "invalid request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav, audio/*")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", AuthorizationHeader(apiKey))
	}
	if req.ID != "" {
		httpReq.Header.Set("X-Request-Id", req.ID)
	}
	if s.userAgent != "" {
		httpReq.Header.Set("User-Agent", s.userAgent)
	}

	s.logger.Debug("Sending synthesis request", "session", req.ID, "url", url, "chars", len(req.Text))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &TransportError{Kind: KindTimeout, Err: err}
		}
		return nil, &TransportError{Kind: KindConnect, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := readSnippet(resp.Body)
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, snippet)
	}

	// Some providers report errors as JSON with a 200 status
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		snippet := readSnippet(resp.Body)
		resp.Body.Close()
		return nil, &ProtocolError{Reason: "expected audio, got JSON: " + snippet}
	}

	s.logger.Debug("Synthesis stream opened", "session", req.ID, "status", resp.StatusCode)
	return resp.Body, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	return strings.TrimSpace(string(b))
}
