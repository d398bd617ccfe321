package ws

import "testing"

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub(nil)

	hub.AddClient(1, nil, ConnInfo{ConnID: "c1", UserID: 9})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected thread room to be created")
	}

	info, ok := hub.getConnInfo(1, nil)
	if !ok || info.UserID != 9 {
		t.Fatalf("expected conn info to be tracked")
	}

	hub.RemoveClient(1, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected thread room to be removed")
	}
	if len(hub.connInfo) != 0 {
		t.Fatalf("expected conn info to be removed")
	}
}

func TestHubRemoveUnknownClient(t *testing.T) {
	hub := NewHub(nil)

	hub.RemoveClient(5, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected no rooms")
	}
}
