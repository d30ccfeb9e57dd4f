package modelcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the upstream tree holding the Piper voice artifacts.
const DefaultBaseURL = "https://huggingface.co/rhasspy/piper-voices/resolve/main"

const (
	fetchTimeout    = 5 * time.Minute
	dirPermissions  = 0o750
	filePermissions = 0o640
)

// Static errors.
var (
	ErrInvalidVoiceName = errors.New("invalid voice name")
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrSizeMismatch     = errors.New("downloaded size does not match content length")
	ErrEmptyArtifact    = errors.New("downloaded artifact is empty")
)

// Artifact describes a voice model installed in the models directory.
type Artifact struct {
	ModelPath  string
	ConfigPath string
	Size       int64
}

// Fetcher retrieves a voice model artifact into the models directory.
type Fetcher interface {
	Fetch(ctx context.Context, voiceID string) (Artifact, error)
}

// HTTPFetcher downloads Piper voice models from a HuggingFace-style tree. A
// voice name such as "de_DE-thorsten-high" maps to
// <base>/de/de_DE/thorsten/high/de_DE-thorsten-high.onnx plus its .json
// voice configuration.
type HTTPFetcher struct {
	baseURL string
	dir     string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPFetcher creates a fetcher installing models under dir. An empty
// baseURL selects the default Piper voice tree.
func NewHTTPFetcher(baseURL, dir string, log zerolog.Logger) *HTTPFetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		dir:     dir,
		client:  &http.Client{Timeout: fetchTimeout},
		log:     log.With().Str("component", "model-fetcher").Logger(),
	}
}

// Fetch downloads the model and its voice configuration unless both already
// exist on disk. Files that survived a previous process are reused as-is.
func (f *HTTPFetcher) Fetch(ctx context.Context, voiceID string) (Artifact, error) {
	urlPath, err := voiceURLPath(voiceID)
	if err != nil {
		// A malformed voice name never resolves, so retrying is pointless.
		return Artifact{}, backoff.Permanent(err)
	}

	err = os.MkdirAll(f.dir, dirPermissions)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create models directory %q: %w", f.dir, err)
	}

	modelPath := filepath.Join(f.dir, voiceID+".onnx")
	configPath := modelPath + ".json"

	err = f.ensureFile(ctx, f.baseURL+"/"+urlPath+".onnx", modelPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to fetch model for voice %q: %w", voiceID, err)
	}

	err = f.ensureFile(ctx, f.baseURL+"/"+urlPath+".onnx.json", configPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to fetch voice config for voice %q: %w", voiceID, err)
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to stat model file %q: %w", modelPath, err)
	}

	return Artifact{
		ModelPath:  modelPath,
		ConfigPath: configPath,
		Size:       info.Size(),
	}, nil
}

// ensureFile downloads url to dest unless dest already exists with content.
// The download lands in a temp file and is renamed into place only after the
// size check, so a crashed download never leaves a truncated artifact behind.
func (f *HTTPFetcher) ensureFile(ctx context.Context, url, dest string) error {
	info, err := os.Stat(dest)
	if err == nil && info.Size() > 0 {
		return nil
	}

	f.log.Info().Str("url", url).Str("dest", dest).Msg("downloading voice artifact")

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %q: %w", url, err)
	}

	response, err := f.client.Do(request)
	if err != nil {
		return fmt.Errorf("failed to download %q: %w", url, err)
	}

	defer func() {
		closeErr := response.Body.Close()
		if closeErr != nil {
			f.log.Warn().Err(closeErr).Str("url", url).Msg("failed to close response body")
		}
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s for %q", ErrUnexpectedStatus, response.Status, url)
	}

	return f.writeFile(response, dest)
}

func (f *HTTPFetcher) writeFile(response *http.Response, dest string) error {
	tmp, err := os.CreateTemp(f.dir, filepath.Base(dest)+".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	written, copyErr := io.Copy(tmp, response.Body)
	closeErr := tmp.Close()

	if copyErr != nil || closeErr != nil {
		removeTemp(tmp.Name(), f.log)

		if copyErr != nil {
			return fmt.Errorf("failed to write %q: %w", dest, copyErr)
		}

		return fmt.Errorf("failed to close temp file for %q: %w", dest, closeErr)
	}

	err = verifySize(written, response.ContentLength)
	if err != nil {
		removeTemp(tmp.Name(), f.log)

		return fmt.Errorf("verification of %q failed: %w", dest, err)
	}

	err = os.Chmod(tmp.Name(), filePermissions)
	if err != nil {
		removeTemp(tmp.Name(), f.log)

		return fmt.Errorf("failed to chmod temp file for %q: %w", dest, err)
	}

	err = os.Rename(tmp.Name(), dest)
	if err != nil {
		removeTemp(tmp.Name(), f.log)

		return fmt.Errorf("failed to move %q into place: %w", dest, err)
	}

	return nil
}

func verifySize(written, contentLength int64) error {
	if written == 0 {
		return ErrEmptyArtifact
	}

	if contentLength >= 0 && written != contentLength {
		return fmt.Errorf("%w: got %d, expected %d", ErrSizeMismatch, written, contentLength)
	}

	return nil
}

func removeTemp(name string, log zerolog.Logger) {
	err := os.Remove(name)
	if err != nil {
		log.Warn().Err(err).Str("file", name).Msg("failed to remove temp file")
	}
}

// voiceURLPath derives the upstream tree path for a Piper voice name of the
// form <lang_code>-<dataset>-<quality>, e.g. "de_DE-thorsten-high" yields
// "de/de_DE/thorsten/high/de_DE-thorsten-high".
func voiceURLPath(voiceID string) (string, error) {
	parts := strings.Split(voiceID, "-")
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidVoiceName, voiceID)
	}

	langCode := parts[0]
	dataset := parts[1]
	quality := parts[len(parts)-1]

	langFamily, _, _ := strings.Cut(langCode, "_")
	if langFamily == "" || dataset == "" || quality == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidVoiceName, voiceID)
	}

	return strings.Join([]string{langFamily, langCode, dataset, quality, voiceID}, "/"), nil
}
