package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bigbagadawgz/wager-paper-scissors/network"
)

// MockConnection implements network.Connection for tests.
type MockConnection struct {
	mu     sync.Mutex
	sent   []network.Packet
	closed bool
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, network.Packet{MsgID: msgID, Data: data, Length: uint16(len(data))})
	return nil
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockConnection) RemoteAddr() net.Addr                 { return nil }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func (m *MockConnection) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestSession_Bind(t *testing.T) {
	s := NewSession("sess-1", &MockConnection{})

	if s.GetIdentity() != "" || s.GetRoomCode() != "" {
		t.Error("A new session should be unbound")
	}

	s.Bind("alice", "ROOM01")
	if s.GetIdentity() != "alice" {
		t.Errorf("Expected identity alice, got %q", s.GetIdentity())
	}
	if s.GetRoomCode() != "ROOM01" {
		t.Errorf("Expected room ROOM01, got %q", s.GetRoomCode())
	}
}

func TestSession_Send(t *testing.T) {
	conn := &MockConnection{}
	s := NewSession("sess-1", conn)

	if err := s.Send(301, []byte(`{"room_code":"ROOM01"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if conn.sentCount() != 1 {
		t.Errorf("Expected 1 packet sent, got %d", conn.sentCount())
	}
	if conn.sent[0].MsgID != 301 {
		t.Errorf("Expected msg ID 301, got %d", conn.sent[0].MsgID)
	}
}

func TestSession_TouchUpdatesLastActive(t *testing.T) {
	s := NewSession("sess-1", &MockConnection{})
	before := s.GetLastActive()

	time.Sleep(time.Millisecond)
	s.Touch()

	if !s.GetLastActive().After(before) {
		t.Error("Touch should advance LastActive")
	}
}

func TestSession_ConcurrentSendAndTouch(t *testing.T) {
	s := NewSession("sess-1", &MockConnection{})
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Send(301, []byte("{}"))
		}()
		go func() {
			defer wg.Done()
			s.Touch()
			s.GetLastActive()
		}()
	}
	wg.Wait()

	if s.GetLastActive().IsZero() {
		t.Error("LastActive should be set after concurrent activity")
	}
}

func TestManager_AddRemoveGet(t *testing.T) {
	m := NewManager()

	s1 := NewSession("sess-1", &MockConnection{})
	s2 := NewSession("sess-2", &MockConnection{})
	m.Add(s1)
	m.Add(s2)

	if m.Count() != 2 {
		t.Errorf("Expected 2 sessions, got %d", m.Count())
	}

	got, ok := m.Get("sess-1")
	if !ok || got.ID != "sess-1" {
		t.Errorf("Get(sess-1) = %v, %v", got, ok)
	}

	m.Remove("sess-1")
	if _, ok := m.Get("sess-1"); ok {
		t.Error("Removed session should be gone")
	}
	if m.Count() != 1 {
		t.Errorf("Expected 1 session after removal, got %d", m.Count())
	}
}

func TestManager_GetByIdentity(t *testing.T) {
	m := NewManager()

	phone := NewSession("sess-1", &MockConnection{})
	phone.Bind("alice", "ROOM01")
	laptop := NewSession("sess-2", &MockConnection{})
	laptop.Bind("alice", "ROOM01")
	other := NewSession("sess-3", &MockConnection{})
	other.Bind("bob", "ROOM01")
	m.Add(phone)
	m.Add(laptop)
	m.Add(other)

	alice := m.GetByIdentity("alice")
	if len(alice) != 2 {
		t.Errorf("Expected both of alice's devices, got %d", len(alice))
	}
	if sessions := m.GetByIdentity("carol"); len(sessions) != 0 {
		t.Errorf("Expected no sessions for carol, got %d", len(sessions))
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s := NewSession(string(rune('A'+n%26))+"-sess", &MockConnection{})
			m.Add(s)
			m.Get(s.ID)
			m.GetByIdentity("nobody")
		}(i)
	}
	wg.Wait()

	if m.Count() == 0 {
		t.Error("Expected sessions to survive concurrent registration")
	}
}
