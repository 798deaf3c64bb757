package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

const (
	maxRequestBody  = 1 << 20
	maxWaitTimeout  = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Control playback over HTTP",
	Long: paragraph(fmt.Sprintf("\n%s an HTTP control API for the local speaker, plus Prometheus metrics on /metrics.", keyword("Serve"))),
	Example: paragraph("streamtts serve --addr :8080\n" +
		"curl -d '{\"text\":\"hello\"}' localhost:8080/v1/speak"),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, _, err := newEngine(cfg, output{})
		if err != nil {
			return err
		}
		defer func() { _ = engine.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, serveAddr, newAPI(engine))
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "listen address")
}

// serve runs the server until ctx ends, then shuts it down gracefully.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// controller is the engine surface the API exposes.
type controller interface {
	SubmitRequest(ctx context.Context, req tts.Request) (string, error)
	Pause() error
	Resume() error
	StopCurrent() error
	IsPlaying() bool
	IsPaused() bool
	Current() (tts.Result, bool)
	Result(id string) (tts.Result, bool)
	WaitForCompletionContext(ctx context.Context) (tts.Result, error)
}

type api struct {
	engine controller
}

func newAPI(engine controller) http.Handler {
	a := &api{engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/speak", a.speak)
	mux.HandleFunc("POST /v1/pause", a.control(engine.Pause))
	mux.HandleFunc("POST /v1/resume", a.control(engine.Resume))
	mux.HandleFunc("POST /v1/stop", a.control(engine.StopCurrent))
	mux.HandleFunc("GET /v1/status", a.status)
	mux.HandleFunc("GET /v1/sessions/{id}", a.session)
	mux.HandleFunc("POST /v1/wait", a.wait)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type speakRequest struct {
	Text  string   `json:"text"`
	Voice string   `json:"voice,omitempty"`
	Model string   `json:"model,omitempty"`
	Speed *float64 `json:"speed,omitempty"`
	Gain  *float64 `json:"gain,omitempty"`
}

type sessionView struct {
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	Error         string    `json:"error,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ChunksWritten int64     `json:"chunks_written"`
	BytesWritten  int64     `json:"bytes_written"`
	PlayedMs      int64     `json:"played_ms"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

func viewOf(res tts.Result) sessionView {
	v := sessionView{
		SessionID:     res.SessionID,
		State:         res.State.String(),
		ChunksWritten: res.ChunksWritten,
		BytesWritten:  res.BytesWritten,
		PlayedMs:      res.Played.Milliseconds(),
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
		var te *tts.TTSError
		if errors.As(res.Err, &te) {
			v.ErrorCode = string(te.Code)
		}
	}
	return v
}

type statusView struct {
	Playing bool         `json:"playing"`
	Paused  bool         `json:"paused"`
	Current *sessionView `json:"current,omitempty"`
}

func (a *api) speak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	id, err := a.engine.SubmitRequest(r.Context(), tts.Request{
		Text:  req.Text,
		Voice: req.Voice,
		Model: req.Model,
		Speed: req.Speed,
		Gain:  req.Gain,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

func (a *api) control(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	st := statusView{Playing: a.engine.IsPlaying(), Paused: a.engine.IsPaused()}
	if res, ok := a.engine.Current(); ok {
		v := viewOf(res)
		st.Current = &v
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	res, ok := a.engine.Result(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown session"))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(res))
}

// wait blocks until the active session ends. ?timeout= is a Go duration;
// on timeout the current snapshot is returned with 408 and playback
// continues.
func (a *api) wait(w http.ResponseWriter, r *http.Request) {
	timeout := maxWaitTimeout
	if s := r.URL.Query().Get("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid timeout %q", s))
			return
		}
		timeout = min(d, maxWaitTimeout)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	res, err := a.engine.WaitForCompletionContext(ctx)
	if errors.Is(err, tts.ErrWaitTimeout) {
		writeJSON(w, http.StatusRequestTimeout, viewOf(res))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(res))
}

func statusFor(err error) int {
	var te *tts.TTSError
	if !errors.As(err, &te) {
		return http.StatusInternalServerError
	}

	switch te.Code {
	case tts.ErrorCodeValidation:
		return http.StatusBadRequest
	case tts.ErrorCodeClosed, tts.ErrorCodeDevice:
		return http.StatusServiceUnavailable
	case tts.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case tts.ErrorCodeCanceled:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Could not write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	var te *tts.TTSError
	if errors.As(err, &te) {
		body["code"] = string(te.Code)
	}
	writeJSON(w, status, body)
}
