// Package scanning owns the OCR engine lifecycle and runs recognitions
// against a hard deadline.
package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zombor/green-return/internal/preprocess"
)

const (
	DefaultLanguage = "eng"
	DefaultTimeout  = 15 * time.Second
)

// State is the lifecycle state of a Session
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateRecognizing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRecognizing:
		return "recognizing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session owns one engine handle. The handle is created lazily, reused while
// recognitions succeed, and thrown away after any failure so the next call
// starts from a fresh engine.
//
// Operations on a Session are serialized: a second Recognize waits for the
// first to finish.
type Session struct {
	engine   Engine
	language string
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // serializes operations; guards handle
	handle Handle
	state  atomic.Int32
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithLanguage sets the language profile passed to the engine
func WithLanguage(language string) SessionOption {
	return func(s *Session) {
		if language != "" {
			s.language = language
		}
	}
}

// WithTimeout sets the recognition deadline
func WithTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithLogger sets the logger used for lifecycle events
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession creates an uninitialized Session for engine
func NewSession(engine Engine, opts ...SessionOption) *Session {
	s := &Session{
		engine:   engine,
		language: DefaultLanguage,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// EnsureReady loads the engine if it isn't loaded yet
func (s *Session) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureReady(ctx)
}

func (s *Session) ensureReady(ctx context.Context) error {
	if s.handle != nil {
		return nil
	}

	start := time.Now()
	handle, err := s.engine.Initialize(ctx, s.language)
	if err != nil {
		s.logger.Error("Failed to initialize OCR engine", "language", s.language, "error", err)
		return &RecognitionError{Message: fmt.Sprintf("initializing OCR engine: %v", err), Err: err}
	}
	if handle == nil {
		return &RecognitionError{Message: "initializing OCR engine: no engine returned"}
	}

	s.logger.Info("OCR engine ready", "language", s.language, "duration", time.Since(start))
	s.handle = handle
	s.setState(StateReady)
	return nil
}

type recognition struct {
	text string
	err  error
}

// Recognize runs the engine on img, loading it first if needed. Whichever of
// the engine, the session timeout or ctx finishes first decides the outcome.
// On timeout the engine call is abandoned, not interrupted; its handle is
// detached from the session and released once that call returns.
func (s *Session) Recognize(ctx context.Context, img *preprocess.NormalizedImage) (*RecognitionResult, error) {
	if img == nil {
		return nil, errors.New("no image to recognize")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	handle := s.handle
	s.setState(StateRecognizing)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan recognition, 1)
	go func() {
		text, err := handle.Recognize(runCtx, img)
		done <- recognition{text: text, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			s.logger.Error("OCR engine failed, discarding it", "error", res.err)
			s.detach()
			s.release(handle)
			return nil, &RecognitionError{Message: res.err.Error(), Err: res.err}
		}
		s.setState(StateReady)
		return &RecognitionResult{Text: res.text}, nil

	case <-timer.C:
		s.logger.Warn("OCR timed out, discarding engine", "timeout", s.timeout)
		s.abandon(handle, done)
		return nil, &TimeoutError{Timeout: s.timeout}

	case <-ctx.Done():
		s.logger.Warn("OCR cancelled, discarding engine", "error", ctx.Err())
		s.abandon(handle, done)
		return nil, ctx.Err()
	}
}

// Dispose releases the engine handle, if any. It is safe to call repeatedly.
func (s *Session) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := s.handle
	s.detach()
	if handle == nil {
		return nil
	}
	if err := handle.Release(); err != nil {
		return fmt.Errorf("releasing OCR engine: %w", err)
	}
	return nil
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Session) detach() {
	s.handle = nil
	s.setState(StateUninitialized)
}

// abandon detaches handle and releases it in the background once the
// in-flight call reports back, so it is never freed mid-call.
func (s *Session) abandon(handle Handle, done <-chan recognition) {
	s.detach()
	go func() {
		<-done
		s.release(handle)
	}()
}

func (s *Session) release(handle Handle) {
	if err := handle.Release(); err != nil {
		s.logger.Warn("Failed to release OCR engine", "error", err)
	}
}
