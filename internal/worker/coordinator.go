// Package worker contains the coordinator that drives each job through its
// state machine: Received, Resolving, Synthesizing, Publishing, then
// Completed or Failed. Retries live inside the collaborators; the coordinator
// itself never reschedules a job, so each failure is attributable to exactly
// one stage.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voxlane/tts-worker/internal/audio"
	"github.com/voxlane/tts-worker/internal/core"
)

const (
	defaultJobTimeout = 2 * time.Minute
	publishTimeout    = 30 * time.Second
	formatWAV         = "wav"
)

// Options configures the coordinator.
type Options struct {
	// PoolSize is the number of jobs processed concurrently (minimum 1).
	// It is the sole admission-control mechanism: a saturated pool stops
	// pulling, and unstarted jobs stay queued at the broker.
	PoolSize int
	// JobTimeout bounds one job's full traversal.
	JobTimeout time.Duration
	// DefaultVoice is used for requests that do not name a voice.
	DefaultVoice string
}

// Coordinator pulls jobs from the broker adapter and runs each through
// resolution, synthesis, and publication on a fixed pool of workers.
type Coordinator struct {
	jobs         <-chan core.JobRequest
	models       core.ModelResolver
	synth        core.Synthesizer
	store        core.Publisher
	outcomes     core.OutcomePublisher
	poolSize     int
	jobTimeout   time.Duration
	defaultVoice string
	log          zerolog.Logger
}

// New creates a coordinator reading from jobs.
func New(
	jobs <-chan core.JobRequest,
	models core.ModelResolver,
	synth core.Synthesizer,
	store core.Publisher,
	outcomes core.OutcomePublisher,
	opts Options,
	log zerolog.Logger,
) *Coordinator {
	poolSize := opts.PoolSize
	if poolSize < 1 {
		poolSize = 1
	}

	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	return &Coordinator{
		jobs:         jobs,
		models:       models,
		synth:        synth,
		store:        store,
		outcomes:     outcomes,
		poolSize:     poolSize,
		jobTimeout:   jobTimeout,
		defaultVoice: opts.DefaultVoice,
		log:          log.With().Str("component", "coordinator").Logger(),
	}
}

// Run processes jobs until ctx is done, then waits for the in-flight ones to
// reach a terminal outcome. No job is abandoned mid-synthesis without an
// outcome.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info().Int("pool_size", c.poolSize).Msg("worker pool started")

	var group errgroup.Group

	for i := 0; i < c.poolSize; i++ {
		workerID := i

		group.Go(func() error {
			c.workLoop(ctx, workerID)

			return nil
		})
	}

	err := group.Wait()

	c.log.Info().Msg("worker pool stopped")

	return err
}

func (c *Coordinator) workLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-c.jobs:
			if !ok {
				return
			}

			c.process(job, workerID)
		}
	}
}

// process runs one job end-to-end and publishes its single terminal outcome.
// The stage context is derived from Background, not from Run's context, so a
// shutdown request lets the job finish instead of cancelling it.
func (c *Coordinator) process(job core.JobRequest, workerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.jobTimeout)
	defer cancel()

	log := c.log.With().
		Str("job_id", job.JobID).
		Int("worker", workerID).
		Logger()

	outcome := c.execute(ctx, log, job)

	// The stage context is already expired when the job timed out, and the
	// outcome of a timed-out job still has to reach the requester.
	// Publication therefore runs on its own deadline.
	publishCtx, cancelPublish := context.WithTimeout(context.Background(), publishTimeout)
	defer cancelPublish()

	err := c.outcomes.PublishOutcome(publishCtx, outcome)
	if err != nil {
		log.Error().Err(err).Msg("failed to publish job outcome")
	}

	if outcome.Status == core.StatusSucceeded && job.Room != "" {
		err = c.outcomes.PublishAction(publishCtx, job.Room, outcome.ObjectReference)
		if err != nil {
			log.Error().Err(err).Str("room", job.Room).Msg("failed to publish play action")
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, log zerolog.Logger, job core.JobRequest) core.JobOutcome {
	voiceID := job.VoiceID
	if voiceID == "" {
		voiceID = c.defaultVoice
	}

	log.Info().Str("voice", voiceID).Msg("job received, resolving model")

	handle, err := c.models.Resolve(ctx, voiceID)
	if err != nil {
		return c.failed(log, job, err)
	}

	log.Debug().Msg("model resolved, synthesizing")

	pcm, err := c.synth.Synthesize(ctx, handle, job.Text)
	if err != nil {
		return c.failed(log, job, err)
	}

	wavData, err := audio.WrapPCM(pcm, handle.SampleRate)
	if err != nil {
		return c.failed(log, job, err)
	}

	log.Debug().
		Dur("duration", audio.Duration(pcm, handle.SampleRate)).
		Msg("synthesis finished, publishing")

	objectReference, err := c.store.Publish(ctx, job.JobID, wavData, formatWAV)
	if err != nil {
		return c.failed(log, job, err)
	}

	log.Info().Str("object_reference", objectReference).Msg("job completed")

	return core.SucceededOutcome(job.JobID, objectReference)
}

func (c *Coordinator) failed(log zerolog.Logger, job core.JobRequest, err error) core.JobOutcome {
	outcome := core.FailedOutcome(job.JobID, err)

	log.Warn().Err(err).Str("error_kind", outcome.ErrorKind).Msg("job failed")

	return outcome
}
