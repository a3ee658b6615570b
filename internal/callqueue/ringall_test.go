package callqueue

import (
	"context"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

func TestRingallFirstAnswerWins(t *testing.T) {
	m := newTestManager(testOptions())
	agents := []string{"sip:a@x", "sip:b@x", "sip:c@x"}
	for _, uri := range agents {
		m.AddAgent("d", "q", uri, AgentOptions{})
	}

	c := newFakeCall("c1")
	qc := enqueue(t, m, "d", "q", c, 5)

	if n := len(c.allProbes()); n != 3 {
		t.Fatalf("expected 3 probes, got %d", n)
	}
	for _, uri := range agents {
		if s := agentState(m, uri); s != types.StateRinging {
			t.Errorf("expected %s ringing, got %s", uri, s)
		}
	}

	winner := c.probeTo(t, "sip:b@x")
	winner.answer()

	if qc.State() != types.CallConfirm {
		t.Fatalf("expected confirm, got %s", qc.State())
	}
	if winner.bridgedTo() != telephony.Call(c) {
		t.Error("expected answering probe to be bridged to the caller")
	}
	for _, uri := range []string{"sip:a@x", "sip:c@x"} {
		p := c.probeTo(t, uri)
		if r := p.hangupReason(); r == nil || *r != telephony.ReasonPickedOff {
			t.Errorf("expected %s to be picked off, got %v", uri, r)
		}
		if s := agentState(m, uri); s != types.StateResting {
			t.Errorf("expected %s resting, got %s", uri, s)
		}
	}
	if s := agentState(m, "sip:b@x"); s != types.StateBusy {
		t.Errorf("expected winner busy, got %s", s)
	}

	info, err := m.Info("d", "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Size != 0 || info.Talking != 1 || info.Outstanding != 0 {
		t.Errorf("expected size 0, talking 1, outstanding 0, got %d, %d, %d", info.Size, info.Talking, info.Outstanding)
	}

	winner.end()

	stats, _ := m.Stats("d", "q")
	if stats.Talking != 0 {
		t.Errorf("expected talking 0 after hangup, got %d", stats.Talking)
	}
	if s := agentState(m, "sip:b@x"); s != types.StateResting {
		t.Errorf("expected winner resting after the call, got %s", s)
	}
	if n := len(c.positions(types.EventHangup)); n != 1 {
		t.Errorf("expected one hangup event, got %d", n)
	}
}

func TestRingallLateAnswerIsIgnored(t *testing.T) {
	m := newTestManager(testOptions())
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})
	m.AddAgent("d", "q", "sip:b@x", AgentOptions{})

	c := newFakeCall("c1")
	c.holdHangup = true
	enqueue(t, m, "d", "q", c, 5)

	c.probeTo(t, "sip:a@x").answer()
	late := c.probeTo(t, "sip:b@x")
	if late.hangupReason() == nil {
		t.Fatal("expected losing probe to be hung up")
	}

	late.answer()
	if late.bridgedTo() != nil {
		t.Error("expected late answer not to be bridged")
	}
	if s := agentState(m, "sip:b@x"); s != types.StateRinging {
		t.Errorf("expected late agent still ringing until the probe ends, got %s", s)
	}

	late.end()
	stats, _ := m.Stats("d", "q")
	if stats.Talking != 1 {
		t.Errorf("expected one talking call, got %d", stats.Talking)
	}
	if s := agentState(m, "sip:b@x"); s != types.StateResting {
		t.Errorf("expected late agent resting, got %s", s)
	}
}

func TestRingallTwoCallersOneAgent(t *testing.T) {
	m := newTestManager(testOptions())
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})

	c1 := newFakeCall("c1")
	c2 := newFakeCall("c2")
	qc1 := enqueue(t, m, "d", "q", c1, 5)
	qc2, err := m.Enqueue("d", EnqueueOptions{Queue: "q", Call: c2, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := c2.positions(types.EventEntered); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected second caller to enter at position 1, got %v", got)
	}
	if n := len(c2.allProbes()); n != 0 {
		t.Fatalf("expected no probe for the second caller, got %d", n)
	}

	c1.probeTo(t, "sip:a@x").answer()
	if qc1.State() != types.CallConfirm {
		t.Fatalf("expected first call confirmed, got %s", qc1.State())
	}
	if got := c2.positions(types.EventUpdated); len(got) != 1 || got[0] != 0 {
		t.Errorf("expected second caller moved to position 0, got %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := qc2.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != types.CallTimeout {
		t.Errorf("expected second call to time out, got %s", state)
	}
}

func TestRingallPriorityOrder(t *testing.T) {
	m := newTestManager(testOptions())

	low := newFakeCall("low")
	high := newFakeCall("high")
	enqueue(t, m, "d", "q", low, 9)
	enqueue(t, m, "d", "q", high, 1)

	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})

	if n := len(high.allProbes()); n != 1 {
		t.Fatalf("expected high priority caller probed, got %d probes", n)
	}
	if n := len(low.allProbes()); n != 0 {
		t.Errorf("expected low priority caller to wait, got %d probes", n)
	}
	if got := high.positions(types.EventEntered); got[0] != 0 {
		t.Errorf("expected position 0 within its band, got %d", got[0])
	}
}

func TestRingallCallerIDOverride(t *testing.T) {
	m := newTestManager(testOptions())
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})
	m.AddAgent("d", "q2", "sip:b@x", AgentOptions{})

	c1 := newFakeCall("c1")
	_, err := m.Enqueue("d", EnqueueOptions{
		Queue:    "q",
		Call:     c1,
		CallerID: &telephony.CallerID{Number: "+4930123", Name: "Support"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := c1.probeTo(t, "sip:a@x").req
	if req.CallerID == nil || req.CallerID.Number != "+4930123" || req.CallerID.Name != "Support" {
		t.Errorf("expected overridden caller id, got %+v", req.CallerID)
	}
	if req.RingTimeout != DefaultRingTimeout {
		t.Errorf("expected ring timeout %v, got %v", DefaultRingTimeout, req.RingTimeout)
	}

	c2 := newFakeCall("c2")
	enqueue(t, m, "d", "q2", c2, 5)
	req = c2.probeTo(t, "sip:b@x").req
	if req.CallerID == nil || req.CallerID.Number != "c2@example.com" {
		t.Errorf("expected the caller's own id, got %+v", req.CallerID)
	}
}

func TestRingallAbandonCancelsProbes(t *testing.T) {
	store := &memoryStore{}
	opts := testOptions()
	opts.Store = store
	m := newTestManager(opts)
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})
	m.AddAgent("d", "q", "sip:b@x", AgentOptions{})

	c := newFakeCall("c1")
	qc := enqueue(t, m, "d", "q", c, 5)
	c.hangup()

	if qc.State() != types.CallAbandoned {
		t.Fatalf("expected abandoned, got %s", qc.State())
	}
	for _, p := range c.allProbes() {
		if r := p.hangupReason(); r == nil || *r != telephony.ReasonUserGone {
			t.Errorf("expected probe to %s hung up as user gone, got %v", p.target, r)
		}
	}

	waitFor(t, time.Second, func() bool { return len(store.all()) == 1 })
	rec := store.all()[0]
	if rec.Outcome != types.CallAbandoned || rec.CallID != "c1" || rec.AgentURI != "" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestRingallRetriesFailingAgents(t *testing.T) {
	opts := testOptions()
	opts.RetryLag = 10 * time.Millisecond
	m := newTestManager(opts)
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})
	m.AddAgent("d", "q", "sip:b@x", AgentOptions{})

	c := newFakeCall("c1")
	c.originateErr = errRejected
	enqueue(t, m, "d", "q", c, 5)

	time.Sleep(500 * time.Millisecond)
	c.hangup()

	a, b := c.originateCount("sip:a@x"), c.originateCount("sip:b@x")
	if a < 5 || b < 5 {
		t.Errorf("expected each agent retried repeatedly, got %d and %d", a, b)
	}
	if a+b > 120 {
		t.Errorf("expected retries to respect the retry lag, got %d attempts", a+b)
	}
}
