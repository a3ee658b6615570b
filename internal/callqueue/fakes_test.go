package callqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/rs/zerolog"
)

var errRejected = errors.New("rejected")

var probeIDs atomic.Int64

// fakeCall is a caller whose probes are driven by hand from the test
type fakeCall struct {
	id  string
	cid telephony.CallerID

	mu           sync.Mutex
	probes       []*fakeProbe
	hangups      []func()
	gone         bool
	events       []types.QueueEvent
	originateErr error
	originates   map[string]int
	// holdHangup keeps probes alive after Hangup until the test ends them
	holdHangup bool
}

func newFakeCall(id string) *fakeCall {
	return &fakeCall{
		id:         id,
		cid:        telephony.CallerID{Number: id + "@example.com"},
		originates: make(map[string]int),
	}
}

func (c *fakeCall) ID() string                   { return c.id }
func (c *fakeCall) CallerID() telephony.CallerID { return c.cid }

func (c *fakeCall) Originate(_ context.Context, req telephony.OriginateRequest, ev telephony.ProbeEvents) (telephony.Probe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.originates[req.Target]++
	if c.originateErr != nil {
		return nil, c.originateErr
	}
	p := &fakeProbe{
		id:     fmt.Sprintf("probe-%d", probeIDs.Add(1)),
		target: req.Target,
		req:    req,
		events: ev,
		call:   c,
	}
	c.probes = append(c.probes, p)
	return p, nil
}

func (c *fakeCall) OnHangup(fn func()) {
	c.mu.Lock()
	if c.gone {
		c.mu.Unlock()
		fn()
		return
	}
	c.hangups = append(c.hangups, fn)
	c.mu.Unlock()
}

func (c *fakeCall) OnQueueEvent(ev types.QueueEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// hangup simulates the caller going away
func (c *fakeCall) hangup() {
	c.mu.Lock()
	c.gone = true
	fns := c.hangups
	c.hangups = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *fakeCall) allProbes() []*fakeProbe {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*fakeProbe, len(c.probes))
	copy(out, c.probes)
	return out
}

// probeTo returns the latest probe this caller placed to target
func (c *fakeCall) probeTo(t *testing.T, target string) *fakeProbe {
	t.Helper()
	probes := c.allProbes()
	for i := len(probes) - 1; i >= 0; i-- {
		if probes[i].target == target {
			return probes[i]
		}
	}
	t.Fatalf("no probe from %s to %s", c.id, target)
	return nil
}

func (c *fakeCall) positions(kind types.EventType) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for _, ev := range c.events {
		if ev.Type == kind {
			out = append(out, ev.Position)
		}
	}
	return out
}

func (c *fakeCall) originateCount(target string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.originates[target]
}

// fakeProbe is a probe leg; the test answers or ends it explicitly
type fakeProbe struct {
	id     string
	target string
	req    telephony.OriginateRequest
	events telephony.ProbeEvents
	call   *fakeCall

	mu       sync.Mutex
	answered bool
	ended    bool
	hungUp   *telephony.HangupReason
	bridged  telephony.Call
}

func (p *fakeProbe) ID() string     { return p.id }
func (p *fakeProbe) Target() string { return p.target }

func (p *fakeProbe) Hangup(reason telephony.HangupReason) {
	p.mu.Lock()
	if p.hungUp == nil {
		p.hungUp = &reason
	}
	p.mu.Unlock()

	p.call.mu.Lock()
	hold := p.call.holdHangup
	p.call.mu.Unlock()
	if !hold {
		p.end()
	}
}

func (p *fakeProbe) Bridge(caller telephony.Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return errors.New("probe ended")
	}
	p.bridged = caller
	return nil
}

func (p *fakeProbe) answer() {
	p.mu.Lock()
	if p.answered || p.ended {
		p.mu.Unlock()
		return
	}
	p.answered = true
	p.mu.Unlock()
	p.events.Answered()
}

func (p *fakeProbe) end() {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return
	}
	p.ended = true
	answered := p.answered
	p.mu.Unlock()
	p.events.Ended(answered)
}

func (p *fakeProbe) hangupReason() *telephony.HangupReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hungUp
}

func (p *fakeProbe) bridgedTo() telephony.Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bridged
}

func (p *fakeProbe) isEnded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

type fakeRegistrar struct {
	mu       sync.Mutex
	contacts map[string][]string
}

func (r *fakeRegistrar) ContactsFor(_ context.Context, uri string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contacts[uri], nil
}

type memoryStore struct {
	mu      sync.Mutex
	records []types.CallRecord
}

func (s *memoryStore) SaveCallRecord(record types.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *memoryStore) all() []types.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

// eventLog collects every event delivered to observers
type eventLog struct {
	mu     sync.Mutex
	events []types.QueueEvent
}

func (l *eventLog) OnQueueEvent(ev types.QueueEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []types.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

func testOptions() Options {
	return Options{
		AgentLag: time.Hour,
		RetryLag: time.Hour,
		MinLag:   time.Millisecond,
	}
}

func newTestManager(opts Options) *Manager {
	return NewManager(opts, zerolog.Nop())
}

// agentState reads an agent's state under the manager lock
func agentState(m *Manager, uri string) types.AgentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.agents.Get(uri); a != nil {
		return a.State
	}
	return ""
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func enqueue(t *testing.T, m *Manager, domain, queue string, call telephony.Call, priority int) *QueuedCall {
	t.Helper()
	qc, err := m.Enqueue(domain, EnqueueOptions{Queue: queue, Call: call, Priority: priority})
	if err != nil {
		t.Fatalf("enqueue %s: %v", call.ID(), err)
	}
	return qc
}
