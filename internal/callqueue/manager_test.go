package callqueue

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

func TestEnqueueValidation(t *testing.T) {
	m := newTestManager(testOptions())

	if _, err := m.Enqueue("d", EnqueueOptions{Queue: "q"}); !errors.Is(err, ErrNoCall) {
		t.Errorf("expected ErrNoCall, got %v", err)
	}
	if _, err := m.Enqueue("d", EnqueueOptions{Call: newFakeCall("c0")}); !errors.Is(err, ErrUnknownQueue) {
		t.Errorf("expected ErrUnknownQueue for an empty queue name, got %v", err)
	}

	c := newFakeCall("c1")
	enqueue(t, m, "d", "q", c, 5)
	if _, err := m.Enqueue("d", EnqueueOptions{Queue: "q", Call: c}); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestQueuePositionsAfterRemoval(t *testing.T) {
	m := newTestManager(testOptions())

	calls := []*fakeCall{newFakeCall("c1"), newFakeCall("c2"), newFakeCall("c3"), newFakeCall("c4")}
	for _, c := range calls {
		enqueue(t, m, "d", "q", c, 5)
	}

	calls[1].hangup()

	if got := calls[0].positions(types.EventUpdated); len(got) != 0 {
		t.Errorf("expected no update ahead of the removed call, got %v", got)
	}
	if got := calls[2].positions(types.EventUpdated); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("expected c3 moved to 1, got %v", got)
	}
	if got := calls[3].positions(types.EventUpdated); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("expected c4 moved to 2, got %v", got)
	}

	info, _ := m.Info("d", "q")
	var order []string
	for _, cs := range info.Calls {
		order = append(order, cs.CallID)
	}
	if !reflect.DeepEqual(order, []string{"c1", "c3", "c4"}) {
		t.Errorf("unexpected queue order %v", order)
	}
}

func TestObserverEventOrder(t *testing.T) {
	m := newTestManager(testOptions())
	log := &eventLog{}
	m.Subscribe(log)

	c := newFakeCall("c1")
	enqueue(t, m, "d", "q", c, 5)
	c.hangup()

	want := []types.EventType{types.EventEntered, types.EventStats, types.EventLeft, types.EventStats}
	if got := log.kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	log.mu.Lock()
	left := log.events[2]
	log.mu.Unlock()
	if left.State != types.CallAbandoned || left.Domain != "d" || left.Queue != "q" || left.CallID != "c1" {
		t.Errorf("unexpected left event %+v", left)
	}
}

func TestCallTimeoutReleasesProbes(t *testing.T) {
	m := newTestManager(testOptions())
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})

	c := newFakeCall("c1")
	qc, err := m.Enqueue("d", EnqueueOptions{Queue: "q", Call: c, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if state, _ := qc.Wait(ctx); state != types.CallTimeout {
		t.Fatalf("expected timeout, got %s", state)
	}

	p := c.probeTo(t, "sip:a@x")
	waitFor(t, time.Second, p.isEnded)
	if r := p.hangupReason(); r == nil || *r != telephony.ReasonServerTimeout {
		t.Errorf("expected server timeout, got %v", r)
	}
}

func TestPickAndTalk(t *testing.T) {
	m := newTestManager(testOptions())
	log := &eventLog{}
	m.Subscribe(log)
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})

	c := newFakeCall("c1")
	enqueue(t, m, "d", "q", c, 5)

	qc, err := m.Pick("d", "q", "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qc.State() != types.CallPicked {
		t.Errorf("expected picked, got %s", qc.State())
	}
	if r := c.probeTo(t, "sip:a@x").hangupReason(); r == nil || *r != telephony.ReasonPickedOff {
		t.Errorf("expected probe picked off, got %v", r)
	}
	stats, _ := m.Stats("d", "q")
	if stats.Waiting != 0 || stats.Talking != 1 {
		t.Errorf("expected 0 waiting and 1 talking, got %d and %d", stats.Waiting, stats.Talking)
	}

	if _, err := m.Pick("d", "q", "c1"); !errors.Is(err, ErrUnknownCall) {
		t.Errorf("expected ErrUnknownCall on second pick, got %v", err)
	}
	if _, err := m.Pick("d", "nope", "c1"); !errors.Is(err, ErrUnknownQueue) {
		t.Errorf("expected ErrUnknownQueue, got %v", err)
	}

	log.reset()
	c.hangup()
	stats, _ = m.Stats("d", "q")
	if stats.Talking != 0 {
		t.Errorf("expected talking 0, got %d", stats.Talking)
	}
	if got := log.kinds(); len(got) == 0 || got[0] != types.EventHangup {
		t.Errorf("expected hangup event, got %v", got)
	}
}

func TestNoRemoveOnHangup(t *testing.T) {
	m := newTestManager(testOptions())

	c := newFakeCall("c1")
	qc, err := m.Enqueue("d", EnqueueOptions{Queue: "q", Call: c, NoRemoveOnHangup: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.hangup()

	if qc.State() != types.CallWaiting {
		t.Errorf("expected call kept waiting, got %s", qc.State())
	}
	if _, err := m.CallByID("d", "q", "c1"); err != nil {
		t.Errorf("expected call still queued, got %v", err)
	}
}

func TestSetModeOnlyWhenEmpty(t *testing.T) {
	m := newTestManager(testOptions())

	if _, err := m.SetMode("d", "q", types.ModeEnterprise); !errors.Is(err, ErrUnknownQueue) {
		t.Errorf("expected ErrUnknownQueue, got %v", err)
	}

	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})
	if ok, _ := m.SetMode("d", "q", types.ModeEnterprise); !ok {
		t.Fatal("expected mode change on an empty queue")
	}

	c := newFakeCall("c1")
	c.originateErr = errRejected
	enqueue(t, m, "d", "q", c, 5)
	if ok, _ := m.SetMode("d", "q", types.ModeRingall); ok {
		t.Error("expected mode change refused while calls wait")
	}

	info, _ := m.Info("d", "q")
	if info.Mode != types.ModeEnterprise {
		t.Errorf("expected enterprise, got %s", info.Mode)
	}
}

func TestEnqueueModeAppliesToEmptyQueue(t *testing.T) {
	m := newTestManager(testOptions())

	_, err := m.Enqueue("d", EnqueueOptions{Queue: "q", Call: newFakeCall("c1"), Mode: types.ModeEnterprise})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = m.Enqueue("d", EnqueueOptions{Queue: "q", Call: newFakeCall("c2"), Mode: types.ModeRingall})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, _ := m.Info("d", "q")
	if info.Mode != types.ModeEnterprise {
		t.Errorf("expected enterprise kept, got %s", info.Mode)
	}
}

func TestSyncAgents(t *testing.T) {
	m := newTestManager(testOptions())
	m.AddAgents("d", "q", []string{"sip:a@x", "sip:b@x"}, AgentOptions{})

	added, removed := m.SyncAgents("d", "q", []string{"sip:b@x", "sip:c@x"}, AgentOptions{WrapupLag: 2 * time.Second})
	if added != 1 || removed != 1 {
		t.Errorf("expected 1 added and 1 removed, got %d and %d", added, removed)
	}
	if agentState(m, "sip:a@x") != "" {
		t.Error("expected removed agent forgotten")
	}

	info, _ := m.Info("d", "q")
	if len(info.Agents) != 2 || info.Agents[0].URI != "sip:b@x" || info.Agents[1].URI != "sip:c@x" {
		t.Fatalf("unexpected members %+v", info.Agents)
	}
	if info.Agents[1].AgentLagMs != 2000 {
		t.Errorf("expected wrapup lag 2000ms, got %d", info.Agents[1].AgentLagMs)
	}
}

func TestRemoveAgentFromLastQueue(t *testing.T) {
	m := newTestManager(testOptions())
	m.AddAgent("d", "q1", "sip:a@x", AgentOptions{})
	m.AddAgent("d", "q2", "sip:a@x", AgentOptions{})

	if m.AddAgent("d", "q1", "sip:a@x", AgentOptions{}) {
		t.Error("expected duplicate membership to be refused")
	}

	if !m.RemoveAgent("d", "q1", "sip:a@x") {
		t.Fatal("expected removal")
	}
	if agentState(m, "sip:a@x") == "" {
		t.Fatal("expected agent kept while still a member elsewhere")
	}
	if !m.RemoveAgent("d", "q2", "sip:a@x") {
		t.Fatal("expected removal")
	}
	if agentState(m, "sip:a@x") != "" {
		t.Error("expected agent forgotten after leaving its last queue")
	}
	if m.RemoveAgent("d", "q2", "sip:a@x") {
		t.Error("expected second removal to report false")
	}
}

func TestRegistrarWithoutContacts(t *testing.T) {
	opts := testOptions()
	opts.Registrar = &fakeRegistrar{contacts: map[string][]string{
		"sip:a@x": {"sip:a@10.0.0.1:5060"},
	}}
	m := newTestManager(opts)
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})
	m.AddAgent("d", "q", "sip:b@x", AgentOptions{})

	c := newFakeCall("c1")
	enqueue(t, m, "d", "q", c, 5)

	if c.originateCount("sip:b@x") != 0 {
		t.Error("expected no origination towards an unregistered agent")
	}
	if s := agentState(m, "sip:b@x"); s != types.StateResting {
		t.Errorf("expected unregistered agent resting, got %s", s)
	}
	req := c.probeTo(t, "sip:a@x").req
	if len(req.Contacts) != 1 || req.Contacts[0] != "sip:a@10.0.0.1:5060" {
		t.Errorf("expected contacts passed through, got %v", req.Contacts)
	}
}

func TestLifecycleBusyAndFree(t *testing.T) {
	opts := testOptions()
	opts.RetryLag = 50 * time.Millisecond
	m := newTestManager(opts)
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})

	m.EntityBecameBusy(telephony.Entity{URI: "sip:unknown@x", CallCount: 1})
	m.EntityBecameBusy(telephony.Entity{URI: "sip:a@x", CallCount: 0})
	if s := agentState(m, "sip:a@x"); s != types.StateAvailable {
		t.Fatalf("expected available, got %s", s)
	}

	m.EntityBecameBusy(telephony.Entity{URI: "sip:a@x", CallCount: 1})
	if s := agentState(m, "sip:a@x"); s != types.StateBusy {
		t.Fatalf("expected busy, got %s", s)
	}

	c := newFakeCall("c1")
	enqueue(t, m, "d", "q", c, 5)
	if len(c.allProbes()) != 0 {
		t.Fatal("expected a busy agent not to be probed")
	}

	m.EntityMightBeFree(telephony.Entity{URI: "sip:a@x", CallCount: 1}, false)
	if s := agentState(m, "sip:a@x"); s != types.StateBusy {
		t.Fatalf("expected still busy with a call left, got %s", s)
	}

	m.EntityMightBeFree(telephony.Entity{URI: "sip:a@x", CallCount: 0}, false)
	if s := agentState(m, "sip:a@x"); s != types.StateResting {
		t.Fatalf("expected resting, got %s", s)
	}

	waitFor(t, time.Second, func() bool { return len(c.allProbes()) == 1 })
	if s := agentState(m, "sip:a@x"); s != types.StateRinging {
		t.Errorf("expected ringing after the rest, got %s", s)
	}
}

func TestBusyCancelsPendingRest(t *testing.T) {
	opts := testOptions()
	opts.RetryLag = 20 * time.Millisecond
	m := newTestManager(opts)
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})

	m.EntityBecameBusy(telephony.Entity{URI: "sip:a@x", CallCount: 1})
	m.EntityMightBeFree(telephony.Entity{URI: "sip:a@x", CallCount: 0}, false)
	m.EntityBecameBusy(telephony.Entity{URI: "sip:a@x", CallCount: 1})

	time.Sleep(60 * time.Millisecond)
	if s := agentState(m, "sip:a@x"); s != types.StateBusy {
		t.Errorf("expected stale rest timer ignored, got %s", s)
	}
}

func TestDomainOffersOldestCallerFirst(t *testing.T) {
	opts := testOptions()
	opts.RetryLag = 5 * time.Millisecond
	m := newTestManager(opts)
	m.AddAgent("d", "q1", "sip:a@x", AgentOptions{})
	m.AddAgent("d", "q2", "sip:a@x", AgentOptions{})
	m.EntityBecameBusy(telephony.Entity{URI: "sip:a@x", CallCount: 1})

	older := newFakeCall("older")
	newer := newFakeCall("newer")
	enqueue(t, m, "d", "q2", older, 5)
	time.Sleep(2 * time.Millisecond)
	enqueue(t, m, "d", "q1", newer, 1)

	m.EntityMightBeFree(telephony.Entity{URI: "sip:a@x", CallCount: 0}, false)

	waitFor(t, time.Second, func() bool { return len(older.allProbes()) == 1 })
	if n := len(newer.allProbes()); n != 0 {
		t.Errorf("expected newer caller in the other queue to wait, got %d probes", n)
	}
}

func TestDomainsAreIsolated(t *testing.T) {
	m := newTestManager(testOptions())
	m.AddAgent("d1", "q", "sip:a@x", AgentOptions{})

	c := newFakeCall("c1")
	enqueue(t, m, "d2", "q", c, 5)
	if n := len(c.allProbes()); n != 0 {
		t.Errorf("expected no probe across domains, got %d", n)
	}
	if got := m.Domains(); !reflect.DeepEqual(got, []string{"d1", "d2"}) {
		t.Errorf("unexpected domains %v", got)
	}
	if got := m.AllStats(); len(got) != 2 {
		t.Errorf("expected 2 queues, got %d", len(got))
	}
}

func TestCallByCallerID(t *testing.T) {
	m := newTestManager(testOptions())
	enqueue(t, m, "d", "q", newFakeCall("alice"), 5)
	enqueue(t, m, "d", "q", newFakeCall("bob"), 5)

	qc, err := m.CallByCallerID("d", "q", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qc.ID() != "bob" {
		t.Errorf("expected bob, got %s", qc.ID())
	}
	if _, err := m.CallByCallerID("d", "q", "carol"); !errors.Is(err, ErrUnknownCall) {
		t.Errorf("expected ErrUnknownCall, got %v", err)
	}
}

func TestConfirmedCallIsRecorded(t *testing.T) {
	store := &memoryStore{}
	opts := testOptions()
	opts.Store = store
	m := newTestManager(opts)
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})

	c := newFakeCall("c1")
	enqueue(t, m, "d", "q", c, 3)
	c.probeTo(t, "sip:a@x").answer()

	waitFor(t, time.Second, func() bool { return len(store.all()) == 1 })
	rec := store.all()[0]
	if rec.Outcome != types.CallConfirm {
		t.Errorf("expected confirm, got %s", rec.Outcome)
	}
	if rec.AgentURI != "sip:a@x" || rec.Domain != "d" || rec.Queue != "q" || rec.Priority != 3 {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.InSL {
		t.Error("expected an immediate answer to count within service level")
	}
	if rec.Mode != types.ModeRingall {
		t.Errorf("expected ringall, got %s", rec.Mode)
	}

	stats, _ := m.Stats("d", "q")
	if stats.ServiceLevel.TotalAnswered != 1 || stats.ServiceLevel.AnsweredInSL != 1 {
		t.Errorf("unexpected service level %+v", stats.ServiceLevel)
	}
}

func TestRoutingLoopStops(t *testing.T) {
	m := newTestManager(testOptions())
	rl := NewRoutingLoop(m, time.Millisecond, m.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Start(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("routing loop did not stop")
	}
}

func TestHandleSignalsLeaveQueue(t *testing.T) {
	tests := []struct {
		name    string
		signal  func(*QueuedCall) bool
		state   types.CallState
		reason  telephony.HangupReason
		talking int
	}{
		{"abandoned", (*QueuedCall).SignalAbandoned, types.CallAbandoned, telephony.ReasonUserGone, 0},
		{"picked", (*QueuedCall).SignalPicked, types.CallPicked, telephony.ReasonPickedOff, 1},
		{"confirmed", (*QueuedCall).SignalConfirm, types.CallConfirm, telephony.ReasonPickedOff, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(testOptions())
			m.AddAgent("d", "q", "sip:a@x", AgentOptions{})

			c1 := newFakeCall("c1")
			c2 := newFakeCall("c2")
			qc1 := enqueue(t, m, "d", "q", c1, 5)
			enqueue(t, m, "d", "q", c2, 5)
			pa := c1.probeTo(t, "sip:a@x")

			if !tt.signal(qc1) {
				t.Fatal("expected the first signal to resolve the call")
			}
			if qc1.State() != tt.state {
				t.Errorf("expected %s, got %s", tt.state, qc1.State())
			}
			if r := pa.hangupReason(); r == nil || *r != tt.reason {
				t.Errorf("expected offer hung up with %v, got %v", tt.reason, r)
			}

			stats, _ := m.Stats("d", "q")
			if stats.Waiting != 1 || stats.Talking != tt.talking {
				t.Errorf("expected 1 waiting and %d talking, got %d and %d", tt.talking, stats.Waiting, stats.Talking)
			}
			if got := c2.positions(types.EventUpdated); !reflect.DeepEqual(got, []int{0}) {
				t.Errorf("expected c2 moved to the head, got %v", got)
			}
			info, _ := m.Info("d", "q")
			if len(info.Calls) != 1 || info.Calls[0].CallID != "c2" {
				t.Errorf("expected only c2 listed, got %+v", info.Calls)
			}

			m.AddAgent("d", "q", "sip:b@x", AgentOptions{})
			c2.probeTo(t, "sip:b@x")
			if n := c1.originateCount("sip:b@x"); n != 0 {
				t.Errorf("expected no offer for the resolved call, got %d", n)
			}

			if tt.signal(qc1) {
				t.Error("expected a second signal to be refused")
			}
			if _, err := m.CallByID("d", "q", "c1"); !errors.Is(err, ErrUnknownCall) {
				t.Errorf("expected ErrUnknownCall for the resolved call, got %v", err)
			}
		})
	}
}

func TestSignalAbandonedIgnoresNoRemoveOnHangup(t *testing.T) {
	m := newTestManager(testOptions())

	c := newFakeCall("c1")
	qc, err := m.Enqueue("d", EnqueueOptions{Queue: "q", Call: c, NoRemoveOnHangup: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !qc.SignalAbandoned() {
		t.Fatal("expected the call to be abandoned")
	}
	stats, _ := m.Stats("d", "q")
	if stats.Waiting != 0 {
		t.Errorf("expected empty queue, got %d waiting", stats.Waiting)
	}
}

func TestRepeatedAddKeepsWrapupLag(t *testing.T) {
	m := newTestManager(testOptions())

	if !m.AddAgent("d", "q", "sip:a@x", AgentOptions{WrapupLag: 5 * time.Second}) {
		t.Fatal("expected first add to succeed")
	}
	if m.AddAgent("d", "q", "sip:a@x", AgentOptions{WrapupLag: 9 * time.Second}) {
		t.Error("expected repeated add to be refused")
	}

	agents := m.Agents()
	if len(agents) != 1 || agents[0].AgentLagMs != 5000 {
		t.Errorf("expected wrapup lag 5000ms kept, got %+v", agents)
	}
}

func TestLosingAnswerRestsOnRetryLag(t *testing.T) {
	opts := testOptions()
	opts.RetryLag = 20 * time.Millisecond
	m := newTestManager(opts)
	m.AddAgent("d", "q", "sip:a@x", AgentOptions{})
	m.AddAgent("d", "q", "sip:b@x", AgentOptions{})

	c := newFakeCall("c1")
	c.holdHangup = true
	qc := enqueue(t, m, "d", "q", c, 5)
	pa := c.probeTo(t, "sip:a@x")
	pb := c.probeTo(t, "sip:b@x")

	pa.answer()
	if qc.State() != types.CallConfirm {
		t.Fatalf("expected confirm, got %s", qc.State())
	}

	// b picks up before its hangup lands and is then torn down
	pb.answer()
	pb.end()

	waitFor(t, time.Second, func() bool { return agentState(m, "sip:b@x") == types.StateAvailable })
	if s := agentState(m, "sip:a@x"); s != types.StateBusy {
		t.Errorf("expected winning agent busy, got %s", s)
	}
}
