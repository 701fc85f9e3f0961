// Package realtime wraps one duplex connection to a conversational voice-AI
// provider behind semantic callbacks.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callbridge/internal/config"
	"callbridge/internal/tools"
)

var ErrNotConnected = errors.New("realtime: not connected")

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

// Handler receives decoded provider frames. Exactly one method is invoked
// per recognised inbound frame.
type Handler interface {
	// OnAudio gets base64 μ-law 8 kHz audio ready for the edge.
	OnAudio(payload string)
	OnUserTranscript(text string)
	OnAgentTranscript(delta string)
	// OnAgentUtterance gets one complete agent turn, for providers that do
	// not stream transcript deltas.
	OnAgentUtterance(text string)
	// OnFunctionCall returns the JSON result to send back.
	OnFunctionCall(ctx context.Context, name string, args map[string]any) (string, error)
	// OnSpeechStarted signals the caller talking over the agent.
	OnSpeechStarted()
	OnError(message string)
}

// Config is the per-call session configuration.
type Config struct {
	Instructions string
	Greeting     string
	Tools        []tools.Definition
}

type Session interface {
	// Provider names the backend, e.g. for metrics labels.
	Provider() string
	// Connect dials and configures the session. On error nothing is left open.
	Connect(ctx context.Context, cfg Config) error
	Connected() bool
	// SendAudio forwards edge audio. It is a no-op when not connected.
	SendAudio(ctx context.Context, payload string) error
	// StartConversation primes the provider to greet the caller.
	StartConversation(ctx context.Context) error
	// SendFunctionResult delivers a function output and asks the provider
	// to continue.
	SendFunctionResult(ctx context.Context, callID, output string) error
	CancelResponse(ctx context.Context) error
	// Run reads frames until the connection closes or ctx is done.
	Run(ctx context.Context) error
	// Close is idempotent.
	Close() error
}

// Factory builds an unconnected session bound to h.
type Factory func(h Handler, log *slog.Logger) Session

// NewFactory selects the provider named in cfg.
func NewFactory(cfg config.ProviderConfig) Factory {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	switch cfg.Kind {
	case config.ProviderElevenLabs:
		opts := ElevenLabsOptions{
			APIKey:         cfg.ElevenLabsAPIKey,
			AgentID:        cfg.ElevenLabsAgentID,
			ConnectTimeout: timeout,
		}
		return func(h Handler, log *slog.Logger) Session { return NewElevenLabs(opts, h, log) }
	default:
		opts := OpenAIOptions{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			Voice:          cfg.OpenAIVoice,
			ConnectTimeout: timeout,
		}
		return func(h Handler, log *slog.Logger) Session { return NewOpenAI(opts, h, log) }
	}
}
