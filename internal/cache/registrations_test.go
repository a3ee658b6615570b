package cache

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
)

type recordingListener struct {
	mu           sync.Mutex
	unregistered []string
}

func (l *recordingListener) EntityBecameBusy(telephony.Entity)        {}
func (l *recordingListener) EntityMightBeFree(telephony.Entity, bool) {}
func (l *recordingListener) EntityRegistered(string)                  {}
func (l *recordingListener) EntityUnregistered(uri string) {
	l.mu.Lock()
	l.unregistered = append(l.unregistered, uri)
	l.mu.Unlock()
}

func (l *recordingListener) got() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.unregistered...)
}

func TestRegistrationContacts(t *testing.T) {
	c := NewRegistrationCache()
	c.Register("sip:alice@x", []string{"sip:alice@10.0.0.1:5060"}, time.Minute)

	contacts, err := c.ContactsFor(context.Background(), "sip:alice@x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(contacts, []string{"sip:alice@10.0.0.1:5060"}) {
		t.Errorf("unexpected contacts %v", contacts)
	}

	contacts, _ = c.ContactsFor(context.Background(), "sip:bob@x")
	if len(contacts) != 0 {
		t.Errorf("expected no contacts for an unknown uri, got %v", contacts)
	}

	if !c.Unregister("sip:alice@x") {
		t.Error("expected unregister to report an existing entry")
	}
	if c.Unregister("sip:alice@x") {
		t.Error("expected second unregister to report false")
	}
}

func TestRegistrationExpiry(t *testing.T) {
	c := NewRegistrationCache()
	c.Register("sip:b@x", []string{"sip:b@h"}, 10*time.Millisecond)
	c.Register("sip:a@x", []string{"sip:a@h"}, 10*time.Millisecond)
	c.Register("sip:c@x", []string{"sip:c@h"}, time.Hour)

	later := time.Now().Add(time.Second)
	contacts, _ := c.ContactsFor(context.Background(), "sip:a@x")
	if len(contacts) != 1 {
		t.Fatal("expected contacts before expiry")
	}

	expired := c.ExpireStale(later)
	if !reflect.DeepEqual(expired, []string{"sip:a@x", "sip:b@x"}) {
		t.Errorf("unexpected expired set %v", expired)
	}
	if c.Count() != 1 {
		t.Errorf("expected 1 remaining registration, got %d", c.Count())
	}
}

func TestRegistrationRunReportsExpiry(t *testing.T) {
	c := NewRegistrationCache()
	c.Register("sip:a@x", nil, 5*time.Millisecond)

	l := &recordingListener{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, 2*time.Millisecond, l)

	deadline := time.Now().Add(time.Second)
	for len(l.got()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected expiry to be reported")
		}
		time.Sleep(time.Millisecond)
	}
	if got := l.got(); got[0] != "sip:a@x" {
		t.Errorf("expected sip:a@x, got %v", got)
	}
}

func TestRegistrationDefaultTTL(t *testing.T) {
	c := NewRegistrationCache()
	c.SetDefaultTTL(time.Second)
	c.Register("sip:alice@x", []string{"sip:alice@10.0.0.1"}, 0)

	if got := c.ExpireStale(time.Now().Add(500 * time.Millisecond)); len(got) != 0 {
		t.Errorf("expected registration alive, expired %v", got)
	}
	if got := c.ExpireStale(time.Now().Add(2 * time.Second)); len(got) != 1 {
		t.Errorf("expected registration expired after the default ttl, got %v", got)
	}
}
