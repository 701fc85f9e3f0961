package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	ProviderElevenLabs = "elevenlabs"

	ElevenLabsAPIBase = "https://api.elevenlabs.io"
	ElevenLabsWSBase  = "wss://api.elevenlabs.io"
)

type ElevenLabsOptions struct {
	APIKey  string
	AgentID string
	// APIBase and WSBase override the public endpoints.
	APIBase        string
	WSBase         string
	HTTPClient     *http.Client
	ConnectTimeout time.Duration
}

// ElevenLabs speaks the Conversational AI websocket protocol. The agent's
// audio format is configured on the ElevenLabs side.
type ElevenLabs struct {
	*conn
	opts ElevenLabsOptions
}

var _ Session = (*ElevenLabs)(nil)

func NewElevenLabs(opts ElevenLabsOptions, h Handler, log *slog.Logger) *ElevenLabs {
	if opts.APIBase == "" {
		opts.APIBase = ElevenLabsAPIBase
	}
	if opts.WSBase == "" {
		opts.WSBase = ElevenLabsWSBase
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &ElevenLabs{conn: newConn(ProviderElevenLabs, h, log, opts.ConnectTimeout), opts: opts}
}

func (s *ElevenLabs) Provider() string { return ProviderElevenLabs }

// ResolveURL asks for a signed conversation URL, needed by private agents,
// and falls back to the public agent URL on any failure.
func (s *ElevenLabs) ResolveURL(ctx context.Context) string {
	direct := s.opts.WSBase + "/v1/convai/conversation?agent_id=" + url.QueryEscape(s.opts.AgentID)
	if s.opts.APIKey == "" {
		return direct
	}

	endpoint := s.opts.APIBase + "/v1/convai/conversation/get-signed-url?agent_id=" + url.QueryEscape(s.opts.AgentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		s.log.Warn("signed url request failed", "err", err)
		return direct
	}
	req.Header.Set("xi-api-key", s.opts.APIKey)

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		s.log.Warn("signed url request failed", "err", err)
		return direct
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.log.Warn("signed url rejected", "status", resp.StatusCode, "body", string(body))
		return direct
	}
	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.SignedURL == "" {
		s.log.Warn("signed url response invalid", "err", err)
		return direct
	}
	s.log.Info("using signed conversation url")
	return out.SignedURL
}

func (s *ElevenLabs) Connect(ctx context.Context, cfg Config) error {
	target := s.ResolveURL(ctx)

	s.log.Info("connecting to provider")
	if err := s.dial(ctx, target, nil); err != nil {
		return err
	}

	agent := map[string]any{}
	if cfg.Instructions != "" {
		agent["prompt"] = map[string]string{"prompt": cfg.Instructions}
	}
	if cfg.Greeting != "" {
		agent["first_message"] = cfg.Greeting
	}
	init := map[string]any{"type": "conversation_initiation_client_data"}
	if len(agent) > 0 {
		init["conversation_config_override"] = map[string]any{"agent": agent}
	}
	if err := s.writeJSON(ctx, init); err != nil {
		_ = s.Close()
		return fmt.Errorf("realtime: elevenlabs initiation: %w", err)
	}
	s.log.Info("provider session configured")
	return nil
}

func (s *ElevenLabs) SendAudio(ctx context.Context, payload string) error {
	if !s.Connected() {
		return nil
	}
	return s.writeJSON(ctx, map[string]string{"user_audio_chunk": payload})
}

// StartConversation is a no-op: the agent greets with first_message once
// the initiation frame sent by Connect is accepted.
func (s *ElevenLabs) StartConversation(ctx context.Context) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	return nil
}

func (s *ElevenLabs) SendFunctionResult(ctx context.Context, callID, output string) error {
	err := s.writeJSON(ctx, map[string]any{
		"type":         "client_tool_result",
		"tool_call_id": callID,
		"result":       output,
		"is_error":     isFailure(output),
	})
	if err != nil {
		return err
	}
	if err := s.writeJSON(ctx, map[string]string{"type": "contextual_update", "text": "Tool result: " + output}); err != nil {
		return err
	}
	s.log.Info("function result sent", "function_call_id", callID)
	return nil
}

// CancelResponse is a no-op: the agent stops speaking on its own when it
// detects an interruption.
func (s *ElevenLabs) CancelResponse(ctx context.Context) error {
	return nil
}

func (s *ElevenLabs) Run(ctx context.Context) error {
	return s.run(ctx, s.handle)
}

type elevenLabsFrame struct {
	Type       string `json:"type"`
	AudioEvent struct {
		Audio string `json:"audio_base_64"`
	} `json:"audio_event"`
	UserTranscription struct {
		Transcript string `json:"user_transcript"`
	} `json:"user_transcription_event"`
	AgentResponse struct {
		Response string `json:"agent_response"`
	} `json:"agent_response_event"`
	ToolCall struct {
		Name       string          `json:"tool_name"`
		ID         string          `json:"tool_call_id"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"client_tool_call"`
	PingEvent struct {
		EventID json.RawMessage `json:"event_id"`
	} `json:"ping_event"`
	Metadata struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func (s *ElevenLabs) handle(ctx context.Context, data []byte) {
	var f elevenLabsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Warn("invalid provider frame", "err", err)
		return
	}

	switch f.Type {
	case "audio":
		if f.AudioEvent.Audio != "" {
			s.handler.OnAudio(f.AudioEvent.Audio)
		}
	case "user_transcript":
		if t := f.UserTranscription.Transcript; t != "" {
			s.handler.OnUserTranscript(t)
		}
	case "agent_response":
		if r := f.AgentResponse.Response; r != "" {
			s.handler.OnAgentUtterance(r)
		}
	case "interruption":
		s.handler.OnSpeechStarted()
	case "client_tool_call":
		s.log.Info("function call", "function", f.ToolCall.Name, "function_call_id", f.ToolCall.ID)
		out := s.callFunction(ctx, f.ToolCall.Name, f.ToolCall.Parameters)
		if err := s.SendFunctionResult(ctx, f.ToolCall.ID, out); err != nil {
			s.log.Error("send function result failed", "function_call_id", f.ToolCall.ID, "err", err)
		}
	case "ping":
		pong := map[string]any{"type": "pong", "event_id": f.PingEvent.EventID}
		if err := s.writeJSON(ctx, pong); err != nil {
			s.log.Warn("pong failed", "err", err)
		}
	case "error":
		msg := errorText(f.Error, f.Message)
		s.log.Error("provider error", "message", msg)
		s.handler.OnError(msg)
	case "conversation_initiation_metadata":
		s.log.Info("conversation started", "conversation_id", f.Metadata.ConversationID)
	default:
		s.log.Debug("provider event", "type", f.Type)
	}
}

func errorText(raw json.RawMessage, message string) string {
	if len(raw) > 0 {
		var str string
		if err := json.Unmarshal(raw, &str); err == nil && str != "" {
			return str
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
		return string(raw)
	}
	if message != "" {
		return message
	}
	return "Unknown error"
}

func isFailure(output string) bool {
	var r struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(output), &r); err != nil || r.Success == nil {
		return false
	}
	return !*r.Success
}
