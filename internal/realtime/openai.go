package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"callbridge/internal/tools"
)

const (
	ProviderOpenAI = "openai"

	OpenAIRealtimeURL = "wss://api.openai.com/v1/realtime"
)

type OpenAIOptions struct {
	APIKey string
	Model  string
	Voice  string
	// URL overrides OpenAIRealtimeURL.
	URL            string
	ConnectTimeout time.Duration
}

// OpenAI speaks the OpenAI Realtime protocol with μ-law audio both ways.
type OpenAI struct {
	*conn
	opts OpenAIOptions
	cfg  Config
	// responding is set between response.created and response.done.
	responding atomic.Bool
}

var _ Session = (*OpenAI)(nil)

func NewOpenAI(opts OpenAIOptions, h Handler, log *slog.Logger) *OpenAI {
	if opts.URL == "" {
		opts.URL = OpenAIRealtimeURL
	}
	return &OpenAI{conn: newConn(ProviderOpenAI, h, log, opts.ConnectTimeout), opts: opts}
}

func (s *OpenAI) Provider() string { return ProviderOpenAI }

func (s *OpenAI) Connect(ctx context.Context, cfg Config) error {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return fmt.Errorf("realtime: openai url: %w", err)
	}
	if s.opts.Model != "" {
		q := u.Query()
		q.Set("model", s.opts.Model)
		u.RawQuery = q.Encode()
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.opts.APIKey)
	h.Set("OpenAI-Beta", "realtime=v1")

	s.log.Info("connecting to provider")
	if err := s.dial(ctx, u.String(), h); err != nil {
		return err
	}
	s.cfg = cfg

	if err := s.writeJSON(ctx, s.sessionUpdate(cfg)); err != nil {
		_ = s.Close()
		return fmt.Errorf("realtime: openai session.update: %w", err)
	}
	s.log.Info("provider session configured", "tools", len(cfg.Tools))
	return nil
}

type openAISession struct {
	Modalities              []string           `json:"modalities"`
	Instructions            string             `json:"instructions"`
	Voice                   string             `json:"voice,omitempty"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription map[string]string  `json:"input_audio_transcription"`
	TurnDetection           openAITurnDetect   `json:"turn_detection"`
	Tools                   []tools.Definition `json:"tools"`
	ToolChoice              string             `json:"tool_choice"`
}

type openAITurnDetect struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

func (s *OpenAI) sessionUpdate(cfg Config) map[string]any {
	defs := cfg.Tools
	if defs == nil {
		defs = []tools.Definition{}
	}
	return map[string]any{
		"type": "session.update",
		"session": openAISession{
			Modalities:              []string{"text", "audio"},
			Instructions:            cfg.Instructions,
			Voice:                   s.opts.Voice,
			InputAudioFormat:        "g711_ulaw",
			OutputAudioFormat:       "g711_ulaw",
			InputAudioTranscription: map[string]string{"model": "whisper-1"},
			TurnDetection: openAITurnDetect{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: 500,
			},
			Tools:      defs,
			ToolChoice: "auto",
		},
	}
}

func (s *OpenAI) SendAudio(ctx context.Context, payload string) error {
	if !s.Connected() {
		return nil
	}
	return s.writeJSON(ctx, map[string]string{"type": "input_audio_buffer.append", "audio": payload})
}

func (s *OpenAI) StartConversation(ctx context.Context) error {
	instr := "Greet the caller now."
	if s.cfg.Greeting != "" {
		instr = fmt.Sprintf("Greet the caller now, saying: %q", s.cfg.Greeting)
	}
	return s.writeJSON(ctx, map[string]any{
		"type":     "response.create",
		"response": map[string]any{"instructions": instr},
	})
}

func (s *OpenAI) SendFunctionResult(ctx context.Context, callID, output string) error {
	err := s.writeJSON(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]string{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
	if err != nil {
		return err
	}
	if err := s.writeJSON(ctx, map[string]string{"type": "response.create"}); err != nil {
		return err
	}
	s.log.Info("function result sent", "function_call_id", callID)
	return nil
}

// CancelResponse is a no-op unless a response is in flight; the provider
// rejects response.cancel otherwise.
func (s *OpenAI) CancelResponse(ctx context.Context) error {
	if !s.responding.CompareAndSwap(true, false) {
		s.log.Debug("no active response to cancel")
		return nil
	}
	return s.writeJSON(ctx, map[string]string{"type": "response.cancel"})
}

func (s *OpenAI) Run(ctx context.Context) error {
	return s.run(ctx, s.handle)
}

type openAIFrame struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Name       string `json:"name"`
	CallID     string `json:"call_id"`
	Arguments  string `json:"arguments"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *OpenAI) handle(ctx context.Context, data []byte) {
	var f openAIFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Warn("invalid provider frame", "err", err)
		return
	}

	switch f.Type {
	case "response.audio.delta":
		if f.Delta != "" {
			s.handler.OnAudio(f.Delta)
		}
	case "conversation.item.input_audio_transcription.completed":
		if f.Transcript != "" {
			s.handler.OnUserTranscript(f.Transcript)
		}
	case "response.audio_transcript.delta":
		if f.Delta != "" {
			s.handler.OnAgentTranscript(f.Delta)
		}
	case "response.function_call_arguments.done":
		s.log.Info("function call", "function", f.Name, "function_call_id", f.CallID)
		out := s.callFunction(ctx, f.Name, []byte(f.Arguments))
		if err := s.SendFunctionResult(ctx, f.CallID, out); err != nil {
			s.log.Error("send function result failed", "function_call_id", f.CallID, "err", err)
		}
	case "input_audio_buffer.speech_started":
		s.handler.OnSpeechStarted()
	case "error":
		if f.Error != nil && f.Error.Code == "response_cancel_not_active" {
			// The response finished before our cancel reached the provider.
			s.log.Debug("cancel raced response.done")
			return
		}
		msg := "Unknown error"
		if f.Error != nil && f.Error.Message != "" {
			msg = f.Error.Message
		}
		s.log.Error("provider error", "message", msg)
		s.handler.OnError(msg)
	case "response.created":
		s.responding.Store(true)
		s.log.Debug("provider event", "type", f.Type)
	case "response.done":
		s.responding.Store(false)
		s.log.Debug("provider event", "type", f.Type)
	case "session.created", "session.updated",
		"input_audio_buffer.speech_stopped", "response.audio_transcript.done", "rate_limits.updated":
		s.log.Debug("provider event", "type", f.Type)
	}
}
