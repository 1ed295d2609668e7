package session

import (
	"testing"

	"github.com/crollins/webdap/pkg/types"
)

func testEvent(logicalID, hostID, childType string) SessionEvent {
	return SessionEvent{
		HostID: hostID,
		Type:   childType,
		Config: types.ChildSessionConfig{
			Type:      childType,
			SessionID: logicalID,
		},
	}
}

// TestRegistry_LinkLifecycle verifies a relevant start is recorded and a
// relevant termination clears it.
func TestRegistry_LinkLifecycle(t *testing.T) {
	host := newFakeHost()
	r := NewLinkRegistry(host, "logical-1", "pwa-chrome", RegistryHooks{
		Status:      func() types.DebugSessionStatus { return types.StatusConnectionDone },
		Reestablish: func() {},
		Terminate:   func() {},
	}, nil)
	r.Subscribe()

	host.publishStarted(testEvent("logical-1", "host-7", "pwa-chrome"))

	link := r.Link()
	if link == nil {
		t.Fatal("expected a link after a matching start broadcast")
	}
	if link.HostID != "host-7" || link.LogicalID != "logical-1" || link.Type != "pwa-chrome" {
		t.Errorf("unexpected link: %+v", link)
	}

	host.publishTerminated(testEvent("logical-1", "host-7", "pwa-chrome"))
	if r.Link() != nil {
		t.Error("expected the link to be cleared after termination")
	}
}

// TestRegistry_IgnoresUnrelatedSessions verifies the matching rule: a
// broadcast with a different type or a different logical identifier triggers
// nothing.
func TestRegistry_IgnoresUnrelatedSessions(t *testing.T) {
	host := newFakeHost()
	reestablished := 0
	terminated := 0
	r := NewLinkRegistry(host, "logical-1", "pwa-chrome", RegistryHooks{
		Status:      func() types.DebugSessionStatus { return types.StatusConnectionDone },
		Reestablish: func() { reestablished++ },
		Terminate:   func() { terminated++ },
	}, nil)
	r.Subscribe()

	// Same type, different logical session.
	host.publishStarted(testEvent("logical-other", "host-1", "pwa-chrome"))
	if r.Link() != nil {
		t.Error("start for another logical session must not be recorded")
	}
	host.publishTerminated(testEvent("logical-other", "host-1", "pwa-chrome"))

	// Same logical identifier, different type.
	host.publishTerminated(testEvent("logical-1", "host-2", "node"))

	if reestablished != 0 || terminated != 0 {
		t.Errorf("unrelated broadcasts triggered hooks: reestablish=%d terminate=%d",
			reestablished, terminated)
	}
}

// TestRegistry_TerminationDuringReconnect verifies a matching termination
// re-establishes the child session while the connection is pending.
func TestRegistry_TerminationDuringReconnect(t *testing.T) {
	host := newFakeHost()
	status := types.StatusConnectionPending
	reestablished := 0
	terminated := 0
	r := NewLinkRegistry(host, "logical-1", "pwa-chrome", RegistryHooks{
		Status:      func() types.DebugSessionStatus { return status },
		Reestablish: func() { reestablished++ },
		Terminate:   func() { terminated++ },
	}, nil)
	r.Subscribe()

	host.publishTerminated(testEvent("logical-1", "host-1", "pwa-chrome"))
	if reestablished != 1 {
		t.Errorf("expected re-establishment during pending connection, got %d", reestablished)
	}
	if terminated != 0 {
		t.Errorf("unexpected terminate during pending connection: %d", terminated)
	}

	// Once the connection is settled, a termination ends the session.
	status = types.StatusConnectionDone
	host.publishTerminated(testEvent("logical-1", "host-2", "pwa-chrome"))
	if terminated != 1 {
		t.Errorf("expected terminate after settled connection, got %d", terminated)
	}
	if reestablished != 1 {
		t.Errorf("unexpected extra re-establishment: %d", reestablished)
	}
}

// TestRegistry_ReleaseStopsCallbacks verifies a released registry drops its
// subscriptions and never fires hooks again.
func TestRegistry_ReleaseStopsCallbacks(t *testing.T) {
	host := newFakeHost()
	terminated := 0
	r := NewLinkRegistry(host, "logical-1", "pwa-chrome", RegistryHooks{
		Status:      func() types.DebugSessionStatus { return types.StatusConnectionDone },
		Reestablish: func() {},
		Terminate:   func() { terminated++ },
	}, nil)
	r.Subscribe()

	if host.subscriberCount() != 2 {
		t.Fatalf("expected 2 host subscriptions, got %d", host.subscriberCount())
	}

	r.Release()
	r.Release() // idempotent

	if host.subscriberCount() != 0 {
		t.Errorf("expected subscriptions dropped, got %d", host.subscriberCount())
	}

	host.publishTerminated(testEvent("logical-1", "host-1", "pwa-chrome"))
	if terminated != 0 {
		t.Errorf("released registry fired terminate %d times", terminated)
	}

	// Subscribe after release stays a no-op.
	r.Subscribe()
	if host.subscriberCount() != 0 {
		t.Error("released registry must not re-subscribe")
	}
}
