package run

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"parley/internal/asr"
	"parley/internal/audio"
	"parley/internal/config"
	"parley/internal/control"
	"parley/internal/hook"
	"parley/internal/observe"
	"parley/internal/segment"

	"github.com/sirupsen/logrus"
)

// Version is reported as the service version on exported metrics.
var Version = "dev"

// listener is the part of the segmentation engine the daemon drives.
type listener interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	SessionID() string
	Transcript() string
}

// Server owns the listening engine and fans its sentences out to the hook,
// the transcripts log, and websocket subscribers.
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	hook      *hook.Runner
	metrics   *observe.Metrics
	events    *hub
	startedAt time.Time

	// lifeMu serializes listen, mute and shutdown.
	lifeMu    sync.Mutex
	engine    listener
	listenCtx context.Context

	transcriptsMu sync.Mutex
	transcripts   []control.Transcript
	lastFinal     string

	hookCh chan hook.Job
	wg     sync.WaitGroup
}

func newServer(cfg *config.Config, logger *logrus.Logger, met *observe.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger,
		hook:        hook.NewRunner(cfg, logger),
		metrics:     met,
		events:      newHub(logger),
		startedAt:   time.Now(),
		transcripts: make([]control.Transcript, 0, max(0, cfg.UI.StatusTail)),
		hookCh:      make(chan hook.Job, max(1, cfg.Hook.QueueSize)),
		listenCtx:   context.Background(),
	}
}

// Serve runs the daemon until interrupted.
func Serve(cfg *config.Config, logger *logrus.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.MustStatePaths(cfg); err != nil {
		return err
	}
	// Write pid file.
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Paths.PidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("remove pid file: %v", err)
		}
	}()
	// Ensure socket removed
	if err := os.Remove(cfg.Paths.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debugf("remove stale socket: %v", err)
	}

	prov, err := observe.InitProvider(Version)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() {
		if err := prov.Shutdown(context.Background()); err != nil {
			logger.Warnf("metrics shutdown: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listenCtx, cancelListen := context.WithCancel(ctx)
	defer cancelListen()

	models := asr.NewModels(ctx, cfg, logger)
	defer models.Close()

	srv := newServer(cfg, logger, prov.Metrics)
	srv.listenCtx = listenCtx
	srv.engine = segment.New(segment.FromConfig(cfg), models, micCapture(cfg, logger), srv.onEvent,
		segment.WithLogger(logger),
		segment.WithMetrics(prov.Metrics),
	)

	// Control socket
	go srv.controlLoop(ctx)

	// Hook worker
	srv.wg.Add(1)
	go srv.hookWorker(ctx)

	// Metrics and events endpoint
	if cfg.Metrics.Enabled {
		go srv.httpServe(ctx, cfg.Metrics.Addr, prov.Handler)
	}

	go func() {
		if err := models.Warm(listenCtx); err != nil && listenCtx.Err() == nil {
			logger.Errorf("model warm-up: %v", err)
		}
	}()
	if cfg.Segment.ListenOnStart {
		go func() {
			if _, err := srv.listen(); err != nil && listenCtx.Err() == nil {
				logger.Errorf("listen: %v", err)
			}
		}()
	} else {
		logger.Info("started muted; run `parley listen` to open the microphone")
	}

	// Handle signals
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	s := <-sigCh
	logger.Infof("received signal %s, shutting down", s)

	cancelListen()
	srv.shutdown()
	// Wait for hook worker to drain
	srv.wg.Wait()
	return nil
}

// micCapture opens the configured input device for each session.
func micCapture(cfg *config.Config, logger *logrus.Logger) segment.CaptureFunc {
	return func() (audio.Source, error) {
		mic, err := audio.NewMicSource(cfg.Audio.DeviceName, cfg.Audio.FrameMS)
		if err != nil {
			return nil, err
		}
		logger.Infof("capturing from %q", mic.Name())
		return mic, nil
	}
}

// listen starts a session unless one is running or the daemon is stopping.
func (s *Server) listen() (string, error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if err := s.listenCtx.Err(); err != nil {
		return "", fmt.Errorf("shutting down")
	}
	if err := s.engine.Start(s.listenCtx); err != nil {
		return "", err
	}
	return s.engine.SessionID(), nil
}

// mute stops the running session, which emits its last final sentence.
func (s *Server) mute() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.engine.Stop()
}

// shutdown stops listening and closes the hook queue; no event can be
// emitted afterwards.
func (s *Server) shutdown() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.engine != nil {
		if err := s.engine.Stop(); err != nil && !errors.Is(err, segment.ErrNotRunning) {
			s.logger.Warnf("stop listening: %v", err)
		}
	}
	close(s.hookCh)
}

// onEvent runs on the engine's processing goroutine.
func (s *Server) onEvent(ev segment.Event) {
	s.events.broadcast(ev)
	if !ev.Final {
		s.logger.Debugf("interim: %q", ev.SentenceText)
		return
	}
	text := strings.TrimSpace(ev.SentenceText)
	if !s.acceptFinal(text) {
		return
	}
	s.logger.Infof("heard: %q (%s)", text, ev.Cause)
	s.recordTranscript(text, string(ev.Cause), ev.At)
	s.dispatch(hook.Job{
		Text:      text,
		SessionID: ev.SessionID,
		Seq:       ev.Seq,
		Cause:     string(ev.Cause),
		Timestamp: ev.At,
	})
}

// acceptFinal drops empty finals and a repeat of the previous final.
func (s *Server) acceptFinal(text string) bool {
	if text == "" {
		return false
	}
	s.transcriptsMu.Lock()
	defer s.transcriptsMu.Unlock()
	if text == s.lastFinal {
		s.logger.Debugf("duplicate final ignored: %q", text)
		return false
	}
	s.lastFinal = text
	return true
}

func (s *Server) dispatch(job hook.Job) {
	if !s.hook.Configured() || !s.hook.Accept(job.Text) {
		return
	}
	ctx := context.Background()
	if !s.hook.ShouldRun() {
		s.logger.Debug("hook skipped (cooldown)")
		s.metrics.Hook(ctx, "skipped")
		return
	}
	select {
	case s.hookCh <- job:
	default:
		s.metrics.Hook(ctx, "dropped")
		s.logger.Warn("hook queue full, dropping job")
	}
}

func (s *Server) recordTranscript(text, cause string, at time.Time) {
	if !s.cfg.Transcripts.Enabled {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	entry := control.Transcript{
		Text:      text,
		Cause:     cause,
		Timestamp: at,
	}
	s.transcriptsMu.Lock()
	defer s.transcriptsMu.Unlock()
	s.transcripts = append(s.transcripts, entry)
	if len(s.transcripts) > s.cfg.UI.StatusTail {
		s.transcripts = s.transcripts[len(s.transcripts)-max(0, s.cfg.UI.StatusTail):]
	}
	// append to file
	f, err := os.OpenFile(s.cfg.Paths.TranscriptPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warnf("open transcript: %v", err)
		return
	}
	if _, err := fmt.Fprintf(f, "%s\t%s\t%s\n", entry.Timestamp.Format(time.RFC3339), cause, entry.Text); err != nil {
		s.logger.Warnf("write transcript: %v", err)
	}
	_ = f.Close()
}

func (s *Server) controlLoop(ctx context.Context) {
	ln, err := net.Listen("unix", s.cfg.Paths.SocketPath)
	if err != nil {
		s.logger.Errorf("control listen: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Errorf("control accept: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			s.logger.Warnf("control connection close: %v", err)
		}
	}()
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	var req control.Request
	if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
		return
	}
	if resp := s.handleRequest(req); resp != nil {
		_ = json.NewEncoder(conn).Encode(resp)
	}
}

func (s *Server) handleRequest(req control.Request) any {
	switch req.Op {
	case "status":
		return s.status()
	case "health":
		return control.SimpleResponse{OK: true, Message: "ok"}
	case "listen":
		id, err := s.listen()
		if err != nil {
			return control.SimpleResponse{OK: false, Message: err.Error()}
		}
		return control.SimpleResponse{OK: true, Message: "listening (session " + id + ")"}
	case "mute":
		if err := s.mute(); err != nil {
			return control.SimpleResponse{OK: false, Message: err.Error()}
		}
		return control.SimpleResponse{OK: true, Message: "muted"}
	default:
		// ignore unknown
		return nil
	}
}

func (s *Server) status() control.Status {
	st := control.Status{
		Running:     true,
		UptimeSec:   time.Since(s.startedAt).Seconds(),
		Transcripts: s.copyTranscripts(),
	}
	if s.engine != nil {
		st.Listening = s.engine.Running()
		st.SessionID = s.engine.SessionID()
		st.SessionTranscript = strings.TrimSpace(s.engine.Transcript())
	}
	return st
}

func (s *Server) copyTranscripts() []control.Transcript {
	s.transcriptsMu.Lock()
	defer s.transcriptsMu.Unlock()
	out := make([]control.Transcript, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}
