// Package broker adapts the MQTT job intake and outcome topics to the
// coordinator's channel-based contract.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxlane/tts-worker/internal/core"
)

const (
	jobQoS         = 1
	outcomeQoS     = 1
	disconnectWait = 250 // milliseconds, paho's own unit
	connectTimeout = 30 * time.Second
)

// Options configures the adapter.
type Options struct {
	Host              string
	Port              int
	ClientID          string
	Username          string
	Password          string
	JobTopic          string
	OutcomeTopic      string
	ActionTopicPrefix string
}

// jobIDNamespace scopes the job IDs derived for payloads that arrive without
// one.
var jobIDNamespace = uuid.MustParse("b8f7d6e0-4a9c-4e2f-9d3a-1f2e3c4b5a69")

// playAudioAction is the wire format satellites consume from their action
// topic.
type playAudioAction struct {
	Actions []actionEntry `json:"actions"`
}

type actionEntry struct {
	Type    string        `json:"type"`
	Payload actionPayload `json:"payload"`
}

type actionPayload struct {
	Filename string `json:"filename"`
}

// MQTTAdapter subscribes to the job topic and exposes decoded requests as a
// channel. Malformed messages are logged and dropped, never surfaced as job
// failures. The paho client reconnects on its own; while the connection is
// down no handler fires, so intake pauses and resumes without losing
// accepted jobs.
type MQTTAdapter struct {
	client    mqtt.Client
	opts      Options
	jobs      chan core.JobRequest
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

// New creates an adapter with its own paho client configured for automatic
// reconnection. The subscription is (re-)established from the on-connect
// hook, so it survives broker restarts.
func New(opts Options, log zerolog.Logger) *MQTTAdapter {
	adapter := newAdapter(opts, log)

	clientOptions := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Host, opts.Port)).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetConnectTimeout(connectTimeout)

	if opts.Username != "" {
		clientOptions.SetUsername(opts.Username)
		clientOptions.SetPassword(opts.Password)
	}

	clientOptions.SetOnConnectHandler(adapter.onConnect)
	clientOptions.SetConnectionLostHandler(adapter.onConnectionLost)

	adapter.client = mqtt.NewClient(clientOptions)

	return adapter
}

func newAdapter(opts Options, log zerolog.Logger) *MQTTAdapter {
	if opts.ActionTopicPrefix == "" {
		opts.ActionTopicPrefix = "satellite/"
	}

	return &MQTTAdapter{
		client:    nil,
		opts:      opts,
		jobs:      make(chan core.JobRequest),
		done:      make(chan struct{}),
		closeOnce: sync.Once{},
		log:       log.With().Str("component", "broker").Logger(),
	}
}

// Connect establishes the initial broker connection. The paho client keeps
// retrying internally; this call returns once connected or when ctx ends.
func (a *MQTTAdapter) Connect(ctx context.Context) error {
	token := a.client.Connect()

	err := waitToken(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: connecting to %s:%d: %w", core.ErrConnectionLost, a.opts.Host, a.opts.Port, err)
	}

	return nil
}

// Jobs returns the stream of decoded job requests. The channel is unbuffered:
// when every worker is busy, undelivered messages stay queued at the broker
// side, which is the backpressure mechanism.
func (a *MQTTAdapter) Jobs() <-chan core.JobRequest {
	return a.jobs
}

// PublishOutcome reports a terminal job outcome on the outcome topic.
func (a *MQTTAdapter) PublishOutcome(ctx context.Context, outcome core.JobOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome for job %q: %w", outcome.JobID, err)
	}

	token := a.client.Publish(a.opts.OutcomeTopic, outcomeQoS, false, payload)

	err = waitToken(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: publishing outcome for job %q: %w", core.ErrConnectionLost, outcome.JobID, err)
	}

	return nil
}

// PublishAction tells a satellite to play the uploaded audio. The payload
// format is what the satellites already consume.
func (a *MQTTAdapter) PublishAction(ctx context.Context, room, objectReference string) error {
	action := playAudioAction{
		Actions: []actionEntry{
			{
				Type:    "play_audio",
				Payload: actionPayload{Filename: objectReference},
			},
		},
	}

	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action for room %q: %w", room, err)
	}

	topic := a.opts.ActionTopicPrefix + room + "/action"

	token := a.client.Publish(topic, outcomeQoS, false, payload)

	err = waitToken(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: publishing action to %q: %w", core.ErrConnectionLost, topic, err)
	}

	return nil
}

// Close stops intake and disconnects from the broker. Safe to call more than
// once.
func (a *MQTTAdapter) Close() {
	a.closeOnce.Do(func() {
		close(a.done)

		if a.client.IsConnected() {
			token := a.client.Unsubscribe(a.opts.JobTopic)
			token.WaitTimeout(time.Second)

			a.client.Disconnect(disconnectWait)
		}
	})
}

func (a *MQTTAdapter) onConnect(client mqtt.Client) {
	a.log.Info().
		Str("host", a.opts.Host).
		Int("port", a.opts.Port).
		Str("topic", a.opts.JobTopic).
		Msg("connected to broker, subscribing")

	token := client.Subscribe(a.opts.JobTopic, jobQoS, a.handleMessage)

	go func() {
		token.Wait()

		err := token.Error()
		if err != nil {
			a.log.Error().Err(err).Str("topic", a.opts.JobTopic).Msg("failed to subscribe to job topic")
		}
	}()
}

func (a *MQTTAdapter) onConnectionLost(_ mqtt.Client, err error) {
	a.log.Warn().Err(fmt.Errorf("%w: %w", core.ErrConnectionLost, err)).Msg("broker connection lost, reconnecting")
}

// handleMessage decodes one inbound message into a job request and hands it
// to the coordinator. Blocking here is deliberate: it is what defers further
// deliveries while the pool is saturated.
func (a *MQTTAdapter) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var job core.JobRequest

	err := json.Unmarshal(msg.Payload(), &job)
	if err != nil {
		a.log.Warn().
			Err(fmt.Errorf("%w: %w", core.ErrMalformedMessage, err)).
			Str("topic", msg.Topic()).
			Msg("dropping undecodable message")

		return
	}

	if strings.TrimSpace(job.Text) == "" {
		a.log.Warn().
			Err(fmt.Errorf("%w: missing text", core.ErrMalformedMessage)).
			Str("topic", msg.Topic()).
			Msg("dropping message without text")

		return
	}

	if job.JobID == "" {
		// Derived from the content, not random: an at-least-once
		// redelivery of an id-less payload maps to the same job and the
		// same stored object.
		job.JobID = uuid.NewSHA1(jobIDNamespace, []byte(job.VoiceID+"\x00"+job.Text)).String()
	}

	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}

	select {
	case a.jobs <- job:
	case <-a.done:
	}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
