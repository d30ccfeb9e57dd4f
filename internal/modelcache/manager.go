// Package modelcache owns the on-disk set of voice models and their in-memory
// load states. It resolves voice identifiers to ready model handles, fetching
// artifacts on first use while coalescing concurrent requests for the same
// voice onto a single download.
package modelcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/voxlane/tts-worker/internal/core"
)

const initialFetchBackoff = 500 * time.Millisecond

// ErrMissingSampleRate indicates a voice configuration without an audio
// sample rate, which the synthesis pipeline cannot work with.
var ErrMissingSampleRate = errors.New("voice config carries no sample rate")

// State is the load state of a voice model.
type State int

// Load states of a voice model. The manager exclusively owns transitions
// between them.
const (
	StateUnloaded State = iota
	StateDownloading
	StateReady
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDownloading:
		return "downloading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unloaded"
	}
}

// entry tracks one voice. done is closed when a download attempt reaches a
// terminal state; waiters read state, handle and err from this entry rather
// than the registry, so a later re-attempt cannot change their result.
type entry struct {
	state  State
	handle core.ModelHandle
	err    error
	done   chan struct{}
}

// Manager implements core.ModelResolver on top of a keyed registry with a
// single in-flight download per voice.
type Manager struct {
	fetcher  Fetcher
	attempts int
	mu       sync.Mutex
	entries  map[string]*entry
	log      zerolog.Logger
}

// NewManager creates a manager fetching artifacts through fetcher, with the
// given number of download attempts per resolve (minimum 1).
func NewManager(fetcher Fetcher, attempts int, log zerolog.Logger) *Manager {
	if attempts < 1 {
		attempts = 1
	}

	return &Manager{
		fetcher:  fetcher,
		attempts: attempts,
		mu:       sync.Mutex{},
		entries:  make(map[string]*entry),
		log:      log.With().Str("component", "modelcache").Logger(),
	}
}

// Resolve returns a ready handle for the voice, downloading the model on
// first use. Concurrent calls for the same voice share one download; all of
// them see the same result. A voice whose last download failed is retried on
// the next call.
func (m *Manager) Resolve(ctx context.Context, voiceID string) (core.ModelHandle, error) {
	if strings.TrimSpace(voiceID) == "" {
		return core.ModelHandle{}, fmt.Errorf("%w: empty voice id", core.ErrModelUnavailable)
	}

	m.mu.Lock()

	current, ok := m.entries[voiceID]
	if !ok || current.state == StateUnloaded || current.state == StateFailed {
		current = &entry{
			state:  StateDownloading,
			handle: core.ModelHandle{},
			err:    nil,
			done:   make(chan struct{}),
		}
		m.entries[voiceID] = current
		m.mu.Unlock()

		return m.download(ctx, voiceID, current)
	}

	if current.state == StateReady {
		handle := current.handle
		m.mu.Unlock()

		return handle, nil
	}

	done := current.done
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return core.ModelHandle{}, fmt.Errorf("waiting for voice %q: %w", voiceID, ctx.Err())
	case <-done:
	}

	m.mu.Lock()
	state, handle, resolveErr := current.state, current.handle, current.err
	m.mu.Unlock()

	if state != StateReady {
		return core.ModelHandle{}, resolveErr
	}

	return handle, nil
}

// Preload eagerly resolves a voice so the first job pays no cold-start cost.
func (m *Manager) Preload(ctx context.Context, voiceID string) error {
	m.log.Info().Str("voice", voiceID).Msg("preloading voice model")

	_, err := m.Resolve(ctx, voiceID)
	if err != nil {
		return fmt.Errorf("failed to preload voice %q: %w", voiceID, err)
	}

	return nil
}

// Invalidate drops a ready handle so the next Resolve re-fetches and
// re-verifies the voice. A download in flight is left alone. Files on disk
// persist and are reused by the next fetch.
func (m *Manager) Invalidate(voiceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.entries[voiceID]
	if !ok || current.state == StateDownloading {
		return
	}

	m.log.Warn().Str("voice", voiceID).Msg("invalidating voice model handle")
	delete(m.entries, voiceID)
}

// State reports the current load state of a voice.
func (m *Manager) State(voiceID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.entries[voiceID]
	if !ok {
		return StateUnloaded
	}

	return current.state
}

// download runs the fetch-and-verify attempt owning the entry, then publishes
// the terminal state to all waiters.
func (m *Manager) download(ctx context.Context, voiceID string, current *entry) (core.ModelHandle, error) {
	handle, err := m.fetchAndVerify(ctx, voiceID)

	m.mu.Lock()
	if err != nil {
		current.state = StateFailed
		current.err = err
	} else {
		current.state = StateReady
		current.handle = handle
	}
	close(current.done)
	m.mu.Unlock()

	if err != nil {
		return core.ModelHandle{}, err
	}

	m.log.Info().
		Str("voice", voiceID).
		Str("model", handle.ModelPath).
		Int("sample_rate", handle.SampleRate).
		Int64("size", handle.Size).
		Msg("voice model ready")

	return handle, nil
}

func (m *Manager) fetchAndVerify(ctx context.Context, voiceID string) (core.ModelHandle, error) {
	var artifact Artifact

	operation := func() error {
		fetched, fetchErr := m.fetcher.Fetch(ctx, voiceID)
		if fetchErr != nil {
			m.log.Warn().Err(fetchErr).Str("voice", voiceID).Msg("voice model fetch attempt failed")

			return fetchErr
		}

		artifact = fetched

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newFetchBackoff(), uint64(m.attempts-1)),
		ctx,
	)

	err := backoff.Retry(operation, policy)
	if err != nil {
		return core.ModelHandle{}, fmt.Errorf("%w: voice %q: %w", core.ErrModelUnavailable, voiceID, err)
	}

	sampleRate, err := readSampleRate(artifact.ConfigPath)
	if err != nil {
		return core.ModelHandle{}, fmt.Errorf("%w: voice %q: %w", core.ErrModelUnavailable, voiceID, err)
	}

	return core.ModelHandle{
		VoiceID:    voiceID,
		ModelPath:  artifact.ModelPath,
		ConfigPath: artifact.ConfigPath,
		SampleRate: sampleRate,
		Size:       artifact.Size,
	}, nil
}

func newFetchBackoff() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialFetchBackoff

	return policy
}

// readSampleRate extracts the audio sample rate from a Piper voice config.
// A parseable config doubles as the verification that the download is usable.
func readSampleRate(configPath string) (int, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read voice config %q: %w", configPath, err)
	}

	var voiceConfig struct {
		Audio struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}

	err = json.Unmarshal(data, &voiceConfig)
	if err != nil {
		return 0, fmt.Errorf("failed to parse voice config %q: %w", configPath, err)
	}

	if voiceConfig.Audio.SampleRate <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrMissingSampleRate, configPath)
	}

	return voiceConfig.Audio.SampleRate, nil
}
