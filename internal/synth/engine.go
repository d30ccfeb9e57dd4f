// Package synth drives the Piper inference binary. The engine is stateless
// per call; the model handle is the only cross-call state. Calls against the
// same model are serialized because the underlying engine has no internal
// concurrency, while distinct models may synthesize in parallel.
package synth

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxlane/tts-worker/internal/core"
)

// Invalidator drops a cached model handle so the next use re-resolves it.
// Satisfied by the model cache manager.
type Invalidator interface {
	Invalidate(voiceID string)
}

// Runner executes one inference call. Abstracted so tests can substitute the
// Piper binary.
type Runner interface {
	Run(ctx context.Context, handle core.ModelHandle, text string) ([]byte, error)
}

// Options configures the engine.
type Options struct {
	// PiperPath is the inference binary; defaults to "piper" on PATH.
	PiperPath string
	// MaxConcurrent caps inference across all models. Zero means no global
	// cap beyond the per-model serialization.
	MaxConcurrent int
	// MaxFaults is the number of consecutive engine faults on one model
	// before its handle is invalidated (minimum 1).
	MaxFaults int
}

// Engine implements core.Synthesizer by shelling out to Piper.
type Engine struct {
	runner      Runner
	invalidator Invalidator
	maxFaults   int
	sem         chan struct{}
	mu          sync.Mutex
	voices      map[string]*voiceState
	log         zerolog.Logger
}

// voiceState serializes calls per model and counts consecutive faults.
// faults is only touched while lock is held.
type voiceState struct {
	lock   sync.Mutex
	faults int
}

// NewEngine creates an engine invoking the Piper binary from opts.
func NewEngine(opts Options, invalidator Invalidator, log zerolog.Logger) *Engine {
	binary := opts.PiperPath
	if binary == "" {
		binary = "piper"
	}

	return NewEngineWithRunner(&piperRunner{binary: binary}, opts, invalidator, log)
}

// NewEngineWithRunner creates an engine with a custom runner. This
// constructor is primarily for testing purposes.
func NewEngineWithRunner(runner Runner, opts Options, invalidator Invalidator, log zerolog.Logger) *Engine {
	maxFaults := opts.MaxFaults
	if maxFaults < 1 {
		maxFaults = 1
	}

	var sem chan struct{}
	if opts.MaxConcurrent > 0 {
		sem = make(chan struct{}, opts.MaxConcurrent)
	}

	return &Engine{
		runner:      runner,
		invalidator: invalidator,
		maxFaults:   maxFaults,
		sem:         sem,
		mu:          sync.Mutex{},
		voices:      make(map[string]*voiceState),
		log:         log.With().Str("component", "synth").Logger(),
	}
}

// Synthesize produces raw 16-bit mono PCM for text using the given model.
// Empty text fails with core.ErrInvalidInput without touching the model.
func (e *Engine) Synthesize(ctx context.Context, handle core.ModelHandle, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", core.ErrInvalidInput)
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	state := e.voiceState(handle.VoiceID)

	state.lock.Lock()
	defer state.lock.Unlock()

	pcm, err := e.runner.Run(ctx, handle, text)
	if err != nil {
		e.recordFault(state, handle.VoiceID)

		return nil, fmt.Errorf("%w: voice %q: %w", core.ErrEngineFailure, handle.VoiceID, err)
	}

	state.faults = 0

	return pcm, nil
}

// acquire takes a slot in the global semaphore, if one is configured.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if e.sem == nil {
		return func() {}, nil
	}

	select {
	case e.sem <- struct{}{}:
		return func() { <-e.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for synthesis slot: %w", core.ErrEngineFailure, ctx.Err())
	}
}

// recordFault counts a consecutive engine fault; at the threshold the model
// handle is invalidated so the next use re-resolves it.
func (e *Engine) recordFault(state *voiceState, voiceID string) {
	state.faults++
	if state.faults < e.maxFaults {
		return
	}

	e.log.Warn().
		Str("voice", voiceID).
		Int("faults", state.faults).
		Msg("fault threshold reached, invalidating model handle")

	e.invalidator.Invalidate(voiceID)
	state.faults = 0
}

func (e *Engine) voiceState(voiceID string) *voiceState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.voices[voiceID]
	if !ok {
		state = &voiceState{lock: sync.Mutex{}, faults: 0}
		e.voices[voiceID] = state
	}

	return state
}

// piperRunner invokes the Piper binary: text on stdin, raw s16le PCM on
// stdout.
type piperRunner struct {
	binary string
}

func (r *piperRunner) Run(ctx context.Context, handle core.ModelHandle, text string) ([]byte, error) {
	args := []string{
		"--model", handle.ModelPath,
		"--config", handle.ConfigPath,
		"--output-raw",
	}

	// #nosec G204 -- model paths come from the cache manager, not user input
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdin = strings.NewReader(text)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("piper execution failed: %w - stderr: %s", err, stderr.String())
	}

	return stdout.Bytes(), nil
}
