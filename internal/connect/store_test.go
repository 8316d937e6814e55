package connect

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "connections.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s
}

func TestUpsertAndIsConnected(t *testing.T) {
	s := newTestStore(t)

	if s.IsConnected("app.example") {
		t.Fatal("unexpected connection before upsert")
	}
	if err := s.Upsert("app.example", "0xAbc0000000000000000000000000000000000001"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !s.IsConnected("app.example") {
		t.Fatal("expected connection after upsert")
	}
	// domain keys are case-insensitive
	if !s.IsConnected("APP.Example") {
		t.Fatal("expected case-insensitive match")
	}
}

func TestReconnectRefreshesTimestampWithoutDuplicating(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if err := s.Upsert("app.example", "0xAbc0000000000000000000000000000000000001"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	s.now = func() time.Time { return base.Add(time.Hour) }
	if err := s.Upsert("app.example", ""); err != nil {
		t.Fatalf("re-Upsert failed: %v", err)
	}

	if got := len(s.List()); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
	e, _ := s.Get("app.example")
	if !e.ConnectedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("ConnectedAt not refreshed: %v", e.ConnectedAt)
	}
	if e.Address != "0xAbc0000000000000000000000000000000000001" {
		t.Errorf("address lost on reconnect: %q", e.Address)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Remove("never.connected"); err != nil {
		t.Fatalf("Remove of absent domain failed: %v", err)
	}

	if err := s.Upsert("app.example", ""); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Remove("app.example"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.IsConnected("app.example") {
		t.Fatal("still connected after remove")
	}
	if err := s.Remove("app.example"); err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	for _, d := range []string{"a.example", "b.example", "c.example"} {
		if err := s.Upsert(d, ""); err != nil {
			t.Fatalf("Upsert %s failed: %v", d, err)
		}
	}
	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if got := len(s.List()); got != 0 {
		t.Fatalf("expected empty store, got %d entries", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")

	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := s.Upsert("app.example", "0xAbc0000000000000000000000000000000000001"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	s2 := NewStore(path)
	if err := s2.Load(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !s2.IsConnected("app.example") {
		t.Fatal("connection not persisted")
	}
}

func TestRequesterDomainPriority(t *testing.T) {
	tests := []struct {
		name string
		req  Requester
		want string
	}{
		{"tab wins", Requester{TabURL: "https://Tab.Example/x", SenderURL: "https://sender.example", FrameURL: "https://frame.example"}, "tab.example"},
		{"sender next", Requester{SenderURL: "https://sender.example:8443/app", FrameURL: "https://frame.example"}, "sender.example"},
		{"frame last", Requester{FrameURL: "https://frame.example/inner"}, "frame.example"},
		{"bare hostname", Requester{TabURL: "App.Example"}, "app.example"},
		{"all empty", Requester{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Domain(); got != tt.want {
				t.Errorf("Domain() = %q, want %q", got, tt.want)
			}
		})
	}
}
