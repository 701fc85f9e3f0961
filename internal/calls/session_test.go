package calls

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"callbridge/internal/appointments"
	"callbridge/internal/clinic"
	"callbridge/internal/events"
	"callbridge/internal/realtime"
	"callbridge/internal/reporting"
	"callbridge/internal/schedule"
	"callbridge/internal/store"
	"callbridge/internal/tools"
)

type fakeEdge struct {
	in        chan string
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []map[string]any
}

func newFakeEdge() *fakeEdge {
	return &fakeEdge{in: make(chan string, 16), closed: make(chan struct{})}
}

func (e *fakeEdge) ReadMessage() (int, []byte, error) {
	select {
	case m := <-e.in:
		return 1, []byte(m), nil
	case <-e.closed:
		return 0, nil, io.EOF
	}
}

func (e *fakeEdge) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	e.mu.Lock()
	e.written = append(e.written, m)
	e.mu.Unlock()
	return nil
}

func (e *fakeEdge) SetWriteDeadline(time.Time) error { return nil }

func (e *fakeEdge) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

func (e *fakeEdge) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

func (e *fakeEdge) frames() []map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]map[string]any(nil), e.written...)
}

type fakeProvider struct {
	h          realtime.Handler
	connectErr error
	dropAudio  bool

	connected atomic.Bool
	inject    chan func(realtime.Handler)
	drop      chan struct{}

	mu      sync.Mutex
	audio   []string
	starts  int
	cancels int
	closes  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{inject: make(chan func(realtime.Handler)), drop: make(chan struct{})}
}

func (p *fakeProvider) factory(h realtime.Handler, _ *slog.Logger) realtime.Session {
	p.h = h
	return p
}

func (p *fakeProvider) Provider() string { return "fake" }

func (p *fakeProvider) Connect(context.Context, realtime.Config) error {
	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected.Store(!p.dropAudio)
	return nil
}

func (p *fakeProvider) Connected() bool { return p.connected.Load() }

func (p *fakeProvider) SendAudio(_ context.Context, payload string) error {
	if !p.Connected() {
		return nil
	}
	p.mu.Lock()
	p.audio = append(p.audio, payload)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) StartConversation(context.Context) error {
	p.mu.Lock()
	p.starts++
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) SendFunctionResult(context.Context, string, string) error { return nil }

func (p *fakeProvider) CancelResponse(context.Context) error {
	p.mu.Lock()
	p.cancels++
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.drop:
			p.connected.Store(false)
			return errors.New("connection reset by peer")
		case fn := <-p.inject:
			fn(p.h)
		}
	}
}

func (p *fakeProvider) Close() error {
	p.connected.Store(false)
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

// do runs fn on the provider loop and waits for it.
func (p *fakeProvider) do(t *testing.T, fn func(realtime.Handler)) {
	t.Helper()
	ack := make(chan struct{})
	select {
	case p.inject <- func(h realtime.Handler) { fn(h); close(ack) }:
	case <-time.After(2 * time.Second):
		t.Fatalf("provider loop not running")
	}
	<-ack
}

func (p *fakeProvider) counts() (audio []string, starts, cancels, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.audio...), p.starts, p.cancels, p.closes
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingPublisher) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newDeps(t *testing.T, p *fakeProvider) (Deps, *recordingPublisher) {
	t.Helper()
	s := store.NewMemoryStore()
	dir := clinic.NewDirectory(s)
	appts := appointments.NewManager(s, nil, appointments.Options{})
	reg, err := tools.NewRegistry(appts, dir)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	pub := &recordingPublisher{}
	return Deps{
		Directory:      dir,
		Appointments:   appts,
		Tools:          reg,
		Providers:      p.factory,
		Publisher:      pub,
		Registry:       NewRegistry(),
		ConnectTimeout: time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, pub
}

func seedDirectory(t *testing.T, dir *clinic.Directory) {
	t.Helper()
	err := dir.Import(context.Background(), clinic.Seed{
		Clinic:   clinic.Clinic{Name: "Zambet Dental", WorkingHours: schedule.WorkingHours{Start: "09:00", End: "17:00", SlotDurationMinutes: 30}},
		Doctors:  []clinic.Doctor{{ID: "dr-pop", Name: "Dr. Ana Pop", AvailableServices: []string{"consult"}}},
		Services: []clinic.Service{{ID: "consult", Name: "Consultatie", Price: 150, DurationMinutes: 30}},
	})
	if err != nil {
		t.Fatalf("seed directory: %v", err)
	}
}

// brokenStore fails every write.
type brokenStore struct{ store.Store }

func (brokenStore) Write(context.Context, string, []byte) error { return errors.New("disk full") }

func (brokenStore) Update(context.Context, string, store.UpdateFunc) error {
	return errors.New("disk full")
}

const startFrame = `{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"callSid":"CA1","from":"+40722123456"}}}`

func runSession(t *testing.T, s *Session, edge EdgeConn) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Handle(context.Background(), edge)
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Handle did not return")
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func assertOneCallEnded(t *testing.T, pub *recordingPublisher) {
	t.Helper()
	ended := pub.ofType(events.TypeCallEnded)
	if len(ended) != 1 {
		t.Fatalf("expected exactly one call_ended, got %d", len(ended))
	}
	if d, _ := ended[0].Data["duration_seconds"].(int); d < 0 {
		t.Fatalf("negative duration %v", ended[0].Data["duration_seconds"])
	}
}

func TestHandle_StartMediaStop(t *testing.T) {
	p := newFakeProvider()
	deps, pub := newDeps(t, p)
	deps.Registry.Register("CA1", "+40722123456", "+40210000000")
	s := NewSession(deps)
	edge := newFakeEdge()

	edge.in <- `{"event":"connected","protocol":"Call"}`
	edge.in <- startFrame
	edge.in <- `{"event":"media","streamSid":"MZ1","media":{"payload":"AAAA"}}`
	edge.in <- `{"event":"media","streamSid":"MZ1","media":{"payload":"BBBB"}}`
	edge.in <- `garbage`
	edge.in <- `{"event":"stop","streamSid":"MZ1"}`

	waitDone(t, runSession(t, s, edge))

	audio, starts, _, closes := p.counts()
	if len(audio) != 2 || audio[0] != "AAAA" || audio[1] != "BBBB" {
		t.Fatalf("unexpected forwarded audio: %v", audio)
	}
	if starts != 1 || closes == 0 {
		t.Fatalf("expected one greeting and a provider close, got starts=%d closes=%d", starts, closes)
	}
	if s.Running() {
		t.Fatalf("expected running flag cleared")
	}

	started := pub.ofType(events.TypeCallStarted)
	if len(started) != 1 || started[0].Data["caller_number"] != "+40722123456" || started[0].Data["call_id"] != s.ID() {
		t.Fatalf("unexpected call_started: %+v", started)
	}
	assertOneCallEnded(t, pub)
	if _, ok := deps.Registry.Get("CA1"); ok {
		t.Fatalf("expected registry entry removed at cleanup")
	}
	if s.CallSID() != "CA1" {
		t.Fatalf("unexpected call sid %q", s.CallSID())
	}
}

func TestHandle_CallerFallsBackToCallSid(t *testing.T) {
	p := newFakeProvider()
	deps, pub := newDeps(t, p)
	s := NewSession(deps)
	edge := newFakeEdge()

	edge.in <- `{"event":"start","start":{"streamSid":"MZ2","callSid":"CA2"}}`
	edge.in <- `{"event":"stop"}`
	waitDone(t, runSession(t, s, edge))

	started := pub.ofType(events.TypeCallStarted)
	if len(started) != 1 || started[0].Data["caller_number"] != "CA2" {
		t.Fatalf("unexpected call_started: %+v", started)
	}
}

func TestHandle_DropsMediaWhileProviderDisconnected(t *testing.T) {
	p := newFakeProvider()
	p.dropAudio = true
	deps, _ := newDeps(t, p)
	edge := newFakeEdge()

	edge.in <- startFrame
	edge.in <- `{"event":"media","media":{"payload":"AAAA"}}`
	edge.in <- `{"event":"stop"}`
	waitDone(t, runSession(t, NewSession(deps), edge))

	if audio, _, _, _ := p.counts(); len(audio) != 0 {
		t.Fatalf("expected audio dropped, got %v", audio)
	}
}

func TestHandle_ProviderDropMidCall(t *testing.T) {
	p := newFakeProvider()
	deps, pub := newDeps(t, p)
	edge := newFakeEdge()
	done := runSession(t, NewSession(deps), edge)

	edge.in <- startFrame
	eventually(t, func() bool { _, starts, _, _ := p.counts(); return starts == 1 })
	close(p.drop)

	waitDone(t, done)
	if !edge.isClosed() {
		t.Fatalf("expected edge closed after provider drop")
	}
	assertOneCallEnded(t, pub)
}

func TestHandle_ProviderConnectFailure(t *testing.T) {
	p := newFakeProvider()
	p.connectErr = errors.New("dial tcp: i/o timeout")
	deps, pub := newDeps(t, p)
	edge := newFakeEdge()

	waitDone(t, runSession(t, NewSession(deps), edge))

	if !edge.isClosed() {
		t.Fatalf("expected edge closed")
	}
	if errs := pub.ofType(events.TypeError); len(errs) != 1 || errs[0].Data["code"] != "provider_connect_failed" {
		t.Fatalf("unexpected error events: %+v", errs)
	}
	assertOneCallEnded(t, pub)
}

func TestHandle_ProviderAudioAndInterruption(t *testing.T) {
	p := newFakeProvider()
	deps, pub := newDeps(t, p)
	edge := newFakeEdge()
	done := runSession(t, NewSession(deps), edge)

	// Audio before the stream starts has nowhere to go.
	p.do(t, func(h realtime.Handler) { h.OnAudio("early") })
	if n := len(edge.frames()); n != 0 {
		t.Fatalf("expected no edge frames before start, got %d", n)
	}

	edge.in <- startFrame
	eventually(t, func() bool { _, starts, _, _ := p.counts(); return starts == 1 })

	p.do(t, func(h realtime.Handler) {
		h.OnAudio("QUJD")
		h.OnSpeechStarted()
		h.OnError("rate limited")
		h.OnUserTranscript("I need a cleaning")
	})

	frames := edge.frames()
	if len(frames) != 2 {
		t.Fatalf("expected media and clear frames, got %v", frames)
	}
	media := frames[0]
	if media["event"] != "media" || media["streamSid"] != "MZ1" || media["media"].(map[string]any)["payload"] != "QUJD" {
		t.Fatalf("unexpected media frame: %v", media)
	}
	if frames[1]["event"] != "clear" || frames[1]["streamSid"] != "MZ1" {
		t.Fatalf("unexpected clear frame: %v", frames[1])
	}
	if _, _, cancels, _ := p.counts(); cancels != 1 {
		t.Fatalf("expected one response cancel, got %d", cancels)
	}
	if errs := pub.ofType(events.TypeError); len(errs) != 1 || errs[0].Data["code"] != "provider_error" {
		t.Fatalf("unexpected error events: %+v", errs)
	}
	if user := pub.ofType(events.TypeTranscriptUser); len(user) != 1 || user[0].Data["is_final"] != true {
		t.Fatalf("unexpected user transcripts: %+v", user)
	}

	edge.in <- `{"event":"stop"}`
	waitDone(t, done)
	assertOneCallEnded(t, pub)
}

func TestOnAgentTranscript_Buffering(t *testing.T) {
	p := newFakeProvider()
	deps, pub := newDeps(t, p)
	s := NewSession(deps)

	s.OnAgentTranscript("Hello")
	if n := len(pub.ofType(events.TypeTranscriptAgent)); n != 0 {
		t.Fatalf("expected no flush yet, got %d", n)
	}
	s.OnAgentTranscript(" there.")
	s.OnAgentTranscript("We have free slots at nine, ten thirty and eleven in the morn")
	s.OnAgentTranscript("ing!")

	got := pub.ofType(events.TypeTranscriptAgent)
	if len(got) != 3 {
		t.Fatalf("expected 3 agent transcripts, got %d", len(got))
	}
	if got[0].Data["text"] != "Hello there." || got[0].Data["is_final"] != true {
		t.Fatalf("unexpected first flush: %v", got[0].Data)
	}
	if got[1].Data["is_final"] != false {
		t.Fatalf("expected partial flush, got %v", got[1].Data)
	}
	if got[2].Data["text"] != "We have free slots at nine, ten thirty and eleven in the morning!" || got[2].Data["is_final"] != true {
		t.Fatalf("unexpected final flush: %v", got[2].Data)
	}
}

func TestOnAgentUtterance_PublishesWholeTurns(t *testing.T) {
	p := newFakeProvider()
	deps, pub := newDeps(t, p)
	s := NewSession(deps)

	s.OnAgentUtterance("Sure")
	s.OnAgentUtterance("What time?")
	s.OnAgentUtterance("  ")
	s.OnAgentTranscript("Let me check")
	s.OnAgentUtterance("One moment")

	got := pub.ofType(events.TypeTranscriptAgent)
	want := []string{"Sure", "What time?", "Let me check One moment"}
	if len(got) != len(want) {
		t.Fatalf("expected %d agent transcripts, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Data["text"] != w || got[i].Data["is_final"] != true {
			t.Fatalf("transcript %d: expected final %q, got %v", i, w, got[i].Data)
		}
	}
}

func TestOnFunctionCall_UnknownFunctionIsFailure(t *testing.T) {
	p := newFakeProvider()
	deps, _ := newDeps(t, p)
	s := NewSession(deps)

	out, err := s.OnFunctionCall(context.Background(), "transfer_call", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil || res["success"] != false {
		t.Fatalf("unexpected result %q", out)
	}
}

func TestOnFunctionCall_CountsFailedDispatch(t *testing.T) {
	p := newFakeProvider()
	deps, _ := newDeps(t, p)
	seedDirectory(t, deps.Directory)
	reg, err := tools.NewRegistry(appointments.NewManager(brokenStore{store.NewMemoryStore()}, nil, appointments.Options{}), deps.Directory)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	deps.Tools = reg
	s := NewSession(deps)

	out, err := s.OnFunctionCall(context.Background(), tools.NameCreateAppointment, map[string]any{
		"doctor_id":     "dr-pop",
		"time":          "10:00",
		"patient_name":  "Ion Ionescu",
		"patient_phone": "+40722123456",
		"service_id":    "consult",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded(out) {
		t.Fatalf("expected failure result, got %s", out)
	}
	if got := s.functionCalls.Load(); got != 1 {
		t.Fatalf("expected failed dispatch counted, got %d", got)
	}
	if got := s.bookings.Load(); got != 0 {
		t.Fatalf("expected no bookings, got %d", got)
	}
}

type recordingRecorder struct {
	mu  sync.Mutex
	got []reporting.CallRecord
}

func (r *recordingRecorder) Record(_ context.Context, c reporting.CallRecord) error {
	r.mu.Lock()
	r.got = append(r.got, c)
	r.mu.Unlock()
	return nil
}

func TestHandle_RecordsCallSummary(t *testing.T) {
	p := newFakeProvider()
	deps, _ := newDeps(t, p)
	rec := &recordingRecorder{}
	deps.Recorder = rec
	seedDirectory(t, deps.Directory)
	s := NewSession(deps)
	edge := newFakeEdge()

	edge.in <- startFrame
	done := runSession(t, s, edge)

	var out string
	p.do(t, func(h realtime.Handler) {
		out, _ = h.OnFunctionCall(context.Background(), tools.NameCreateAppointment, map[string]any{
			"doctor_id":     "dr-pop",
			"time":          "10:00",
			"patient_name":  "Ion Ionescu",
			"patient_phone": "+40722123456",
			"service_id":    "consult",
		})
	})
	if !succeeded(out) {
		t.Fatalf("expected booking to succeed, got %s", out)
	}
	p.do(t, func(h realtime.Handler) {
		_, _ = h.OnFunctionCall(context.Background(), tools.NameListAvailableSlots, map[string]any{"doctor_id": "dr-pop"})
	})

	edge.in <- `{"event":"stop"}`
	waitDone(t, done)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.got) != 1 {
		t.Fatalf("expected one call record, got %d", len(rec.got))
	}
	r := rec.got[0]
	if r.ID != s.ID() || r.CallSID != "CA1" || r.Caller != "+40722123456" || r.Provider != "fake" {
		t.Fatalf("unexpected identity %+v", r)
	}
	if r.Outcome != OutcomeCompleted || r.FunctionCalls != 2 || r.Bookings != 1 {
		t.Fatalf("unexpected counters %+v", r)
	}
	if r.EndedAt.Before(r.StartedAt) {
		t.Fatalf("ended before started: %+v", r)
	}
}
