// Package core defines the domain model and the interfaces between the worker
// coordinator and its collaborators: model resolution, synthesis, object
// storage, and outcome publication.
package core

import "context"

// ModelResolver resolves a voice identifier to a usable model handle, fetching
// and installing the model artifact on first use.
type ModelResolver interface {
	Resolve(ctx context.Context, voiceID string) (ModelHandle, error)
}

// Synthesizer produces raw PCM audio for the given text using a resolved
// model. Calls against the same model are serialized by the implementation.
type Synthesizer interface {
	Synthesize(ctx context.Context, handle ModelHandle, text string) ([]byte, error)
}

// Publisher uploads finished audio to object storage under a key derived from
// the job identifier and returns an addressable reference to it.
type Publisher interface {
	Publish(ctx context.Context, jobID string, data []byte, format string) (string, error)
}

// OutcomePublisher reports terminal job outcomes back over the broker.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome JobOutcome) error
	PublishAction(ctx context.Context, room, objectReference string) error
}
