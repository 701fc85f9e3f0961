package calls

import (
	"sort"
	"sync"
	"time"
)

// Registry tracks calls from the incoming webhook until they end.
type Registry struct {
	mu    sync.Mutex
	calls map[string]*LiveCall
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*LiveCall), now: time.Now}
}

// Register records a call announced by the incoming-call webhook.
func (r *Registry) Register(callSID, caller, to string) {
	if callSID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if c, ok := r.calls[callSID]; ok {
		c.Caller, c.To, c.UpdatedAt = caller, to, now
		return
	}
	r.calls[callSID] = &LiveCall{
		CallSID:   callSID,
		Caller:    caller,
		To:        to,
		Status:    StatusRinging,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Attach binds a started media stream to its call, creating the entry when
// the webhook was never seen.
func (r *Registry) Attach(callSID, callID, streamSID, caller string) {
	if callSID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	c, ok := r.calls[callSID]
	if !ok {
		c = &LiveCall{CallSID: callSID, StartedAt: now}
		r.calls[callSID] = c
	}
	c.CallID = callID
	c.StreamSID = streamSID
	if caller != "" {
		c.Caller = caller
	}
	c.Status = StatusInProgress
	c.UpdatedAt = now
}

// SetStatus applies a status callback. Terminal statuses remove the entry.
// It reports whether the call was known.
func (r *Registry) SetStatus(callSID string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[callSID]
	if !ok {
		return false
	}
	if status.Terminal() {
		delete(r.calls, callSID)
		return true
	}
	c.Status = status
	c.UpdatedAt = r.now().UTC()
	return true
}

func (r *Registry) Remove(callSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callSID)
}

func (r *Registry) Get(callSID string) (LiveCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callSID]
	if !ok {
		return LiveCall{}, false
	}
	return *c, true
}

// List returns a copy of every live call, oldest first.
func (r *Registry) List() []LiveCall {
	r.mu.Lock()
	out := make([]LiveCall, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, *c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CallSID < out[j].CallSID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Active counts calls with a running media stream.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Status == StatusInProgress {
			n++
		}
	}
	return n
}
