package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"
)

// wsReadLimit allows large base64 audio frames.
const wsReadLimit = 4 << 20

// WebSocketConfig configures a streaming WebSocket source such as
// ElevenLabs' stream-input endpoint.
type WebSocketConfig struct {
	// URL may contain {voice} and {model} placeholders.
	URL string

	APIKey string

	// RequestTimeout bounds the handshake and the initial messages.
	RequestTimeout time.Duration

	RequestsPerMinute int

	Logger *log.Logger
}

// WebSocketSource streams base64 PCM frames over a WebSocket.
type WebSocketSource struct {
	url     string
	apiKey  string
	timeout time.Duration

	rateLimiter *rate.Limiter
	logger      *log.Logger

	mu sync.RWMutex
}

// NewWebSocketSource creates a new WebSocket synthesis source.
func NewWebSocketSource(config WebSocketConfig) *WebSocketSource {
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

	return &WebSocketSource{
		url:         config.URL,
		apiKey:      config.APIKey,
		timeout:     config.RequestTimeout,
		rateLimiter: limiter,
		logger:      logger.WithPrefix("websocket"),
	}
}

type wsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// wsOpenMessage starts the stream. The text must not be empty.
type wsOpenMessage struct {
	Text          string           `json:"text"`
	VoiceSettings *wsVoiceSettings `json:"voice_settings,omitempty"`
	APIKey        string           `json:"xi_api_key,omitempty"`
	OutputFormat  string           `json:"output_format,omitempty"`
}

type wsTextMessage struct {
	Text  string `json:"text"`
	Flush bool   `json:"flush,omitempty"`
}

type wsAudioMessage struct {
	Audio   string `json:"audio"` // base64 PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Name implements Source.
func (s *WebSocketSource) Name() string {
	return "websocket"
}

// Origin implements Origin.
func (s *WebSocketSource) Origin() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// SetEndpoint implements Endpoint.
func (s *WebSocketSource) SetEndpoint(url, apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if url != "" {
		s.url = url
	}
	if apiKey != "" {
		s.apiKey = apiKey
	}
}

func (s *WebSocketSource) endpoint(req Request) (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := strings.NewReplacer(
		"{voice}", url.PathEscape(req.Voice),
		"{model}", url.QueryEscape(req.Model),
	)
	return r.Replace(s.url), s.apiKey
}

// Stream implements Source. The returned body is a pipe fed by a receive
// loop, so a slow reader holds back the socket instead of buffering.
func (s *WebSocketSource) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	wsURL, apiKey := s.endpoint(req)
	if wsURL == "" {
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

	dialCtx, cancelDial := context.WithTimeout(ctx, s.timeout)
	defer cancelDial()

	header := http.Header{}
	if apiKey != "" {
		header.Set("xi-api-key", apiKey)
	}
	if req.ID != "" {
		header.Set("X-Request-Id", req.ID)
	}

	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if resp != nil && resp.StatusCode >= 400 {
			return nil, statusError(resp.StatusCode, "")
		}
		if dialCtx.Err() != nil {
			return nil, &TransportError{Kind: KindTimeout, Err: err}
		}
		return nil, &TransportError{Kind: KindConnect, Err: err}
	}
	conn.SetReadLimit(wsReadLimit)

	open := wsOpenMessage{
		Text:          " ",
		VoiceSettings: &wsVoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		APIKey:        apiKey,
		OutputFormat:  fmt.Sprintf("pcm_%d", req.Format.SampleRate),
	}
	if req.Speed > 0 && req.Speed != 1 {
		open.VoiceSettings.Speed = req.Speed
	}

	for _, msg := range []any{open, wsTextMessage{Text: req.Text + " ", Flush: true}, wsTextMessage{Text: ""}} {
		if err := wsjson.Write(dialCtx, conn, msg); err != nil {
			conn.CloseNow()
			return nil, &TransportError{Kind: KindConnect, Message: "failed to send text", Err: err}
		}
	}

	s.logger.Debug("Synthesis stream opened", "session", req.ID, "url", wsURL)

	streamCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	go s.receive(streamCtx, conn, pw)

	return &wsStream{PipeReader: pr, cancel: cancel}, nil
}

// receive copies decoded audio into pw until the final frame, an error or
// cancellation.
func (s *WebSocketSource) receive(ctx context.Context, conn *websocket.Conn, pw *io.PipeWriter) {
	defer conn.CloseNow()

	for {
		var msg wsAudioMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			switch {
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				pw.Close()
			case ctx.Err() != nil:
				pw.CloseWithError(ctx.Err())
			default:
				pw.CloseWithError(&TransportError{Kind: KindStream, Err: err})
			}
			return
		}

		if msg.Audio == "" && msg.Error != "" {
			detail := msg.Error
			if msg.Message != "" {
				detail += ": " + msg.Message
			}
			pw.CloseWithError(&TransportError{Kind: KindAPI, Message: detail})
			return
		}

		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				pw.CloseWithError(&ProtocolError{Reason: "invalid base64 audio", Err: err})
				return
			}
			if _, err := pw.Write(pcm); err != nil {
				// Reader closed
				return
			}
		}

		if msg.IsFinal {
			pw.Close()
			conn.Close(websocket.StatusNormalClosure, "done")
			return
		}
	}
}

type wsStream struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (w *wsStream) Close() error {
	w.cancel()
	return w.PipeReader.Close()
}
