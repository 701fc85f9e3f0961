// Package calls bridges one Twilio media stream to one voice-provider
// session and owns that call's lifecycle.
package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"callbridge/internal/appointments"
	"callbridge/internal/clinic"
	"callbridge/internal/events"
	"callbridge/internal/observability"
	"callbridge/internal/prompt"
	"callbridge/internal/realtime"
	"callbridge/internal/reporting"
	"callbridge/internal/tools"
	"callbridge/pkg/logger"

	"github.com/google/uuid"
)

// Call outcomes, used as the calls_total label.
const (
	OutcomeCompleted      = "completed"
	OutcomeEdgeClosed     = "edge_closed"
	OutcomeProviderClosed = "provider_closed"
	OutcomeProviderFailed = "provider_failed"
	OutcomeError          = "error"
)

const (
	edgeWriteTimeout = 10 * time.Second
	// agentFlushLen is the buffered agent transcript length that forces a
	// partial transcript event.
	agentFlushLen = 50
)

// Recorder persists the summary of a finished call.
type Recorder interface {
	Record(ctx context.Context, r reporting.CallRecord) error
}

// Deps are the collaborators shared by all calls.
type Deps struct {
	Directory    *clinic.Directory
	Appointments *appointments.Manager
	Tools        *tools.Registry
	Providers    realtime.Factory
	Publisher    events.Publisher
	Registry     *Registry
	Metrics      *observability.Metrics
	// Recorder is optional.
	Recorder Recorder

	ConnectTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Session is one phone call. It implements realtime.Handler.
type Session struct {
	deps Deps
	id   string
	log  *slog.Logger

	edge     EdgeConn
	provider realtime.Session
	edgeMu   sync.Mutex

	// mu guards the stream identity written by the edge loop and read by
	// the provider loop.
	mu        sync.Mutex
	streamSID string
	callSID   string
	caller    string
	started   bool

	running   atomic.Bool
	startedAt time.Time

	functionCalls atomic.Int32
	bookings      atomic.Int32

	// agentBuf is only touched from the provider loop.
	agentBuf strings.Builder

	cleanupOnce sync.Once
}

var _ realtime.Handler = (*Session)(nil)

func NewSession(deps Deps) *Session {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ConnectTimeout <= 0 {
		deps.ConnectTimeout = realtime.DefaultConnectTimeout
	}
	id := uuid.NewString()
	return &Session{deps: deps, id: id, log: deps.Logger.With("call_id", id)}
}

func (s *Session) ID() string { return s.id }

// Running reports whether the edge stream is still live.
func (s *Session) Running() bool { return s.running.Load() }

// CallSID is Twilio's call id, known once the stream has started.
func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

func (s *Session) stream() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// Handle runs the call until either side ends it. Cleanup runs exactly once
// before Handle returns, whatever the outcome.
func (s *Session) Handle(ctx context.Context, edge EdgeConn) {
	s.edge = edge
	s.startedAt = s.deps.Now()
	s.running.Store(true)
	ctx = logger.With(ctx, s.log)
	s.deps.Metrics.CallStarted()
	s.log.Info("call session opened")

	outcome := OutcomeError
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("call session panicked", "panic", r)
			outcome = OutcomeError
		}
		s.cleanup(outcome)
	}()

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		s.log.Error("load call context failed", "err", err)
		_ = edge.Close()
		return
	}

	s.provider = s.deps.Providers(s, s.log)
	connectCtx, cancelConnect := context.WithTimeout(ctx, s.deps.ConnectTimeout)
	t0 := time.Now()
	err = s.provider.Connect(connectCtx, cfg)
	cancelConnect()
	if err != nil {
		s.log.Error("provider connect failed", "err", err)
		s.deps.Publisher.Publish(events.Error("provider_connect_failed", err.Error()))
		_ = edge.Close()
		outcome = OutcomeProviderFailed
		return
	}
	s.deps.Metrics.ProviderConnected(s.provider.Provider(), time.Since(t0))

	outcome = s.relay(ctx)
}

// relay races the two loops, stops the loser and waits for it.
func (s *Session) relay(ctx context.Context) string {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		side    string
		outcome string
	}
	done := make(chan result, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		outcome := OutcomeError
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("edge loop panicked", "panic", r)
			}
			done <- result{side: "edge", outcome: outcome}
		}()
		outcome = s.edgeLoop(runCtx)
	}()

	go func() {
		defer wg.Done()
		outcome := OutcomeError
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("provider loop panicked", "panic", r)
			}
			done <- result{side: "provider", outcome: outcome}
		}()
		if err := s.provider.Run(runCtx); err != nil {
			s.log.Error("provider loop failed", "err", err)
			return
		}
		outcome = OutcomeProviderClosed
	}()

	first := <-done
	cancel()
	if first.side == "edge" {
		_ = s.provider.Close()
	} else {
		_ = s.edge.Close()
	}
	wg.Wait()

	s.log.Info("relay finished", "first", first.side, "outcome", first.outcome)
	return first.outcome
}

func (s *Session) loadConfig(ctx context.Context) (realtime.Config, error) {
	snap, err := s.deps.Directory.Snapshot(ctx)
	if err != nil {
		return realtime.Config{}, fmt.Errorf("calls: clinic snapshot: %w", err)
	}
	now := s.deps.Now()
	appts, err := s.deps.Appointments.List(ctx, now.Format(appointments.DateLayout))
	if err != nil {
		return realtime.Config{}, fmt.Errorf("calls: appointments: %w", err)
	}

	in := prompt.Build(prompt.Input{Snapshot: snap, Appointments: appts, Date: now})
	return realtime.Config{
		Instructions: in.Text,
		Greeting:     in.Greeting,
		Tools:        s.deps.Tools.Definitions(),
	}, nil
}

func (s *Session) edgeLoop(ctx context.Context) string {
	for {
		_, data, err := s.edge.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Info("edge disconnected", "err", err)
			}
			return OutcomeEdgeClosed
		}

		var f InboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("invalid edge frame", "err", err)
			continue
		}
		s.deps.Metrics.Frame("inbound", f.Event)

		switch f.Event {
		case EventConnected:
			s.log.Info("edge stream connected")
		case EventStart:
			s.onStart(ctx, f)
		case EventMedia:
			if f.Media == nil || f.Media.Payload == "" || !s.provider.Connected() {
				continue
			}
			if err := s.provider.SendAudio(ctx, f.Media.Payload); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Debug("forward audio failed", "err", err)
			}
		case EventStop:
			s.log.Info("edge stream stopped")
			s.running.Store(false)
			return OutcomeCompleted
		case EventMark, EventDTMF:
			s.log.Debug("edge event", "event", f.Event)
		default:
			s.log.Debug("unknown edge event", "event", f.Event)
		}
	}
}

func (s *Session) onStart(ctx context.Context, f InboundFrame) {
	st := f.Start
	if st == nil {
		s.log.Warn("start frame without payload")
		return
	}
	streamSID := firstNonEmpty(st.StreamSID, f.StreamSID)
	callSID := firstNonEmpty(st.CustomParameters["callSid"], st.CallSID)
	caller := firstNonEmpty(st.CustomParameters["from"], callSID)

	s.mu.Lock()
	s.streamSID, s.callSID, s.caller = streamSID, callSID, caller
	first := !s.started
	s.started = true
	s.mu.Unlock()

	s.log.Info("edge stream started", "stream_sid", streamSID, "call_sid", callSID)
	if s.deps.Registry != nil {
		s.deps.Registry.Attach(callSID, s.id, streamSID, caller)
	}
	if !first {
		return
	}

	s.deps.Publisher.Publish(events.CallStarted(s.id, caller))
	if err := s.provider.StartConversation(ctx); err != nil {
		s.log.Warn("start conversation failed", "err", err)
	}
}

// OnAudio plays provider audio on the caller's leg. Audio that arrives
// before the stream has started is dropped.
func (s *Session) OnAudio(payload string) {
	sid := s.stream()
	if sid == "" {
		s.log.Debug("audio before stream start dropped")
		return
	}
	if err := s.writeEdge(NewMediaFrame(sid, payload)); err != nil {
		s.log.Debug("send audio to edge failed", "err", err)
		return
	}
	s.deps.Metrics.Frame("outbound", EventMedia)
}

func (s *Session) OnUserTranscript(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.log.Info("caller said", "text", text)
	s.deps.Publisher.Publish(events.Transcript(s.id, text, true, true))
}

// OnAgentTranscript buffers deltas and publishes when the buffer grows past
// agentFlushLen or a sentence ends. Sentence ends are final and reset it.
func (s *Session) OnAgentTranscript(delta string) {
	s.agentBuf.WriteString(delta)
	sentenceEnd := strings.HasSuffix(delta, ".") || strings.HasSuffix(delta, "!") || strings.HasSuffix(delta, "?")
	if s.agentBuf.Len() <= agentFlushLen && !sentenceEnd {
		return
	}
	s.deps.Publisher.Publish(events.Transcript(s.id, s.agentBuf.String(), false, sentenceEnd))
	if sentenceEnd {
		s.agentBuf.Reset()
	}
}

// OnAgentUtterance publishes a whole agent turn as final. Any pending
// delta text is flushed ahead of it, space separated.
func (s *Session) OnAgentUtterance(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if s.agentBuf.Len() > 0 {
		text = strings.TrimSpace(s.agentBuf.String()) + " " + text
		s.agentBuf.Reset()
	}
	s.deps.Publisher.Publish(events.Transcript(s.id, text, false, true))
}

func (s *Session) OnFunctionCall(ctx context.Context, name string, args map[string]any) (string, error) {
	s.functionCalls.Add(1)
	out, err := s.deps.Tools.Dispatch(ctx, s.id, name, args)
	if err != nil {
		s.deps.Metrics.FunctionCall(name, "error")
		s.log.Error("function call failed", "function", name, "err", err)
		return tools.Failure("Something went wrong. Please try again."), nil
	}
	s.deps.Metrics.FunctionCall(name, "ok")
	if name == tools.NameCreateAppointment && succeeded(out) {
		s.bookings.Add(1)
	}
	return out, nil
}

func succeeded(result string) bool {
	var r struct {
		Success bool `json:"success"`
	}
	return json.Unmarshal([]byte(result), &r) == nil && r.Success
}

// OnSpeechStarted handles barge-in: drop queued edge audio and stop the
// provider's current response.
func (s *Session) OnSpeechStarted() {
	sid := s.stream()
	if sid != "" {
		if err := s.writeEdge(NewClearFrame(sid)); err != nil {
			s.log.Debug("clear edge buffer failed", "err", err)
		} else {
			s.deps.Metrics.Frame("outbound", EventClear)
		}
	}
	if err := s.provider.CancelResponse(context.Background()); err != nil {
		s.log.Debug("cancel response failed", "err", err)
	}
}

func (s *Session) OnError(message string) {
	s.log.Error("provider error", "message", message)
	s.deps.Publisher.Publish(events.Error("provider_error", message))
}

func (s *Session) writeEdge(v any) error {
	s.edgeMu.Lock()
	defer s.edgeMu.Unlock()
	_ = s.edge.SetWriteDeadline(time.Now().Add(edgeWriteTimeout))
	return s.edge.WriteJSON(v)
}

func (s *Session) cleanup(outcome string) {
	s.cleanupOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("cleanup panicked", "panic", r)
			}
		}()

		s.running.Store(false)
		d := s.deps.Now().Sub(s.startedAt)
		if d < 0 {
			d = 0
		}

		if s.provider != nil {
			if err := s.provider.Close(); err != nil {
				s.log.Warn("provider close failed", "err", err)
			}
		}
		if s.agentBuf.Len() > 0 {
			s.deps.Publisher.Publish(events.Transcript(s.id, s.agentBuf.String(), false, true))
			s.agentBuf.Reset()
		}

		s.deps.Publisher.Publish(events.CallEnded(s.id, int(d.Seconds())))
		s.deps.Metrics.CallFinished(outcome, d)
		if sid := s.CallSID(); sid != "" && s.deps.Registry != nil {
			s.deps.Registry.Remove(sid)
		}
		s.record(outcome, d)
		s.log.Info("call ended", "duration_seconds", int(d.Seconds()), "outcome", outcome)
	})
}

func (s *Session) record(outcome string, d time.Duration) {
	if s.deps.Recorder == nil {
		return
	}
	s.mu.Lock()
	callSID, caller := s.callSID, s.caller
	s.mu.Unlock()

	r := reporting.CallRecord{
		ID:              s.id,
		CallSID:         callSID,
		Caller:          caller,
		Outcome:         outcome,
		StartedAt:       s.startedAt.UTC(),
		EndedAt:         s.startedAt.Add(d).UTC(),
		DurationSeconds: int(d.Seconds()),
		FunctionCalls:   int(s.functionCalls.Load()),
		Bookings:        int(s.bookings.Load()),
	}
	if s.provider != nil {
		r.Provider = s.provider.Provider()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Recorder.Record(ctx, r); err != nil {
		s.log.Warn("record call failed", "err", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
