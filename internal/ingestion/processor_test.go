package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/dennisdiepolder/monti/acd/internal/cache"
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/rs/zerolog"
)

type recordingListener struct {
	events []string
	free   []telephony.Entity
}

func (l *recordingListener) EntityBecameBusy(e telephony.Entity) {
	l.events = append(l.events, "busy:"+e.URI)
}

func (l *recordingListener) EntityMightBeFree(e telephony.Entity, answered bool) {
	l.events = append(l.events, "free:"+e.URI)
	l.free = append(l.free, e)
}

func (l *recordingListener) EntityRegistered(uri string) {
	l.events = append(l.events, "registered:"+uri)
}

func (l *recordingListener) EntityUnregistered(uri string) {
	l.events = append(l.events, "unregistered:"+uri)
}

func TestProcessorLifecycle(t *testing.T) {
	listener := &recordingListener{}
	regs := cache.NewRegistrationCache()
	p := NewDefaultProcessor(listener, regs, zerolog.Nop())

	events := []types.LifecycleEvent{
		{Type: types.LifecycleRegistered, URI: "sip:a@x", Contacts: []string{"sip:a@10.0.0.1:5060"}, Expires: 60},
		{Type: types.LifecycleBusy, URI: "sip:a@x", CallCount: 1},
		{Type: types.LifecycleCallEnded, URI: "sip:a@x", CallCount: 0, Answered: true},
	}
	for _, ev := range events {
		if err := p.Process(&ev); err != nil {
			t.Fatalf("unexpected error for %s: %v", ev.Type, err)
		}
	}

	contacts, _ := regs.ContactsFor(context.Background(), "sip:a@x")
	if len(contacts) != 1 || contacts[0] != "sip:a@10.0.0.1:5060" {
		t.Errorf("expected registered contact, got %v", contacts)
	}

	if err := p.Process(&types.LifecycleEvent{Type: types.LifecycleUnregistered, URI: "sip:a@x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contacts, _ := regs.ContactsFor(context.Background(), "sip:a@x"); contacts != nil {
		t.Errorf("expected registration removed, got %v", contacts)
	}

	want := []string{"registered:sip:a@x", "busy:sip:a@x", "free:sip:a@x", "unregistered:sip:a@x"}
	if len(listener.events) != len(want) {
		t.Fatalf("expected %v, got %v", want, listener.events)
	}
	for i := range want {
		if listener.events[i] != want[i] {
			t.Errorf("expected %s at %d, got %s", want[i], i, listener.events[i])
		}
	}
	if listener.free[0].CallCount != 0 {
		t.Errorf("expected call count 0, got %d", listener.free[0].CallCount)
	}
}

func TestProcessorRejectsBadEvents(t *testing.T) {
	p := NewDefaultProcessor(&recordingListener{}, cache.NewRegistrationCache(), zerolog.Nop())

	tests := []struct {
		name string
		ev   types.LifecycleEvent
		want error
	}{
		{"missing uri", types.LifecycleEvent{Type: types.LifecycleBusy}, ErrInvalidEvent},
		{"negative count", types.LifecycleEvent{Type: types.LifecycleBusy, URI: "sip:a@x", CallCount: -1}, ErrInvalidEvent},
		{"no contacts", types.LifecycleEvent{Type: types.LifecycleRegistered, URI: "sip:a@x"}, ErrInvalidEvent},
		{"unknown type", types.LifecycleEvent{Type: "entity.teleported", URI: "sip:a@x"}, ErrUnknownEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Process(&tt.ev); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
