package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleksandrAfonin/console-chat/pkg/auth"
	"github.com/AleksandrAfonin/console-chat/pkg/datastore"
	"github.com/AleksandrAfonin/console-chat/pkg/model"
	"github.com/AleksandrAfonin/console-chat/pkg/protocol"
)

// recConn is a net.Conn that records every frame written to it.
type recConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *recConn) Read(_ []byte) (int, error) { return 0, io.EOF }
func (c *recConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}
func (c *recConn) Close() error                       { return nil }
func (c *recConn) LocalAddr() net.Addr                { return &net.IPAddr{} }
func (c *recConn) RemoteAddr() net.Addr               { return &net.IPAddr{} }
func (c *recConn) SetDeadline(_ time.Time) error      { return nil }
func (c *recConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *recConn) SetWriteDeadline(_ time.Time) error { return nil }

// frames decodes everything written so far.
func (c *recConn) frames(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var out []string
	r := bytes.NewReader(data)
	for {
		msg, err := protocol.ReadMessage(r)
		if err != nil {
			return out
		}
		out = append(out, msg)
	}
}

func (c *recConn) clear() {
	c.mu.Lock()
	c.buf.Reset()
	c.mu.Unlock()
}

// failConn is a net.Conn whose writes always fail, like a peer that went
// away mid-delivery.
type failConn struct {
	closed atomic.Bool
}

func (c *failConn) Read(_ []byte) (int, error)  { return 0, io.EOF }
func (c *failConn) Write(_ []byte) (int, error) { return 0, errors.New("broken pipe") }
func (c *failConn) Close() error {
	c.closed.Store(true)
	return nil
}
func (c *failConn) LocalAddr() net.Addr                { return &net.IPAddr{} }
func (c *failConn) RemoteAddr() net.Addr               { return &net.IPAddr{} }
func (c *failConn) SetDeadline(_ time.Time) error      { return nil }
func (c *failConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *failConn) SetWriteDeadline(_ time.Time) error { return nil }

func newTestServer(t *testing.T) (*Server, datastore.DataStore) {
	t.Helper()
	st := datastore.NewMemory()
	srv, err := New(DefaultConfig(), Dependencies{Gateway: auth.NewDBProvider(st)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, st
}

// fixedClock pins the registry clock so broadcast prefixes are predictable.
func fixedClock(srv *Server) {
	srv.registry.now = func() time.Time {
		return time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	}
}

const fixedPrefix = "(12:00:00) "

// addMember registers a session directly with the registry.
func addMember(t *testing.T, srv *Server, name string, roles ...model.Role) (*Session, *recConn) {
	t.Helper()
	if len(roles) == 0 {
		roles = []model.Role{model.RoleUser}
	}
	rc := &recConn{}
	s := newSession(srv, rc)
	identity := &auth.Identity{Username: name, Roles: model.NewRoleSet(roles...)}
	if err := srv.registry.Subscribe(s, identity); err != nil {
		t.Fatalf("Subscribe(%s): %v", name, err)
	}
	s.inChat.Store(true)
	return s, rc
}

func TestSubscribeRejectsBusyUsername(t *testing.T) {
	srv, _ := newTestServer(t)
	addMember(t, srv, "Alice")

	dup := newSession(srv, &recConn{})
	err := srv.registry.Subscribe(dup, &auth.Identity{Username: "Alice", Roles: model.NewRoleSet(model.RoleUser)})
	if err != ErrUsernameBusy {
		t.Fatalf("Subscribe: want ErrUsernameBusy got %v", err)
	}
	if srv.registry.Count() != 1 {
		t.Fatalf("Subscribe: want 1 member got %d", srv.registry.Count())
	}
}

func TestSubscribeConcurrentSameIdentity(t *testing.T) {
	srv, _ := newTestServer(t)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newSession(srv, &recConn{})
			results <- srv.registry.Subscribe(s, &auth.Identity{
				Username: "Alice",
				Roles:    model.NewRoleSet(model.RoleUser),
			})
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if err != ErrUsernameBusy {
			t.Fatalf("Subscribe: unexpected error %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("Subscribe: want exactly 1 success got %d", successes)
	}
	if srv.registry.Count() != 1 {
		t.Fatalf("Subscribe: want 1 member got %d", srv.registry.Count())
	}
}

func TestJoinNoticeGoesToExistingMembersOnly(t *testing.T) {
	srv, _ := newTestServer(t)
	fixedClock(srv)

	_, aliceConn := addMember(t, srv, "Alice")
	_, bobConn := addMember(t, srv, "Bob")

	got := aliceConn.frames(t)
	want := fixedPrefix + "Bob joined the chat"
	if len(got) != 1 || got[0] != want {
		t.Fatalf("join notice: want [%q] got %v", want, got)
	}
	if f := bobConn.frames(t); len(f) != 0 {
		t.Fatalf("join notice: joiner received its own announcement: %v", f)
	}
}

func TestBroadcastReachesEveryMember(t *testing.T) {
	srv, _ := newTestServer(t)
	fixedClock(srv)

	conns := []*recConn{}
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		_, rc := addMember(t, srv, name)
		conns = append(conns, rc)
	}
	for _, rc := range conns {
		rc.clear()
	}

	srv.registry.Broadcast("Alice: hello")
	want := fixedPrefix + "Alice: hello"
	for i, rc := range conns {
		got := rc.frames(t)
		if len(got) != 1 || got[0] != want {
			t.Fatalf("broadcast: member %d want [%q] got %v", i, want, got)
		}
	}
	if srv.metrics.BroadcastsSent.Load() == 0 {
		t.Fatalf("broadcast: counter not incremented")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)
	fixedClock(srv)

	_, aliceConn := addMember(t, srv, "Alice")
	bob, _ := addMember(t, srv, "Bob")
	aliceConn.clear()

	srv.registry.Unsubscribe(bob)
	srv.registry.Unsubscribe(bob)

	got := aliceConn.frames(t)
	want := fixedPrefix + "Bob left the chat"
	if len(got) != 1 || got[0] != want {
		t.Fatalf("leave notice: want exactly [%q] got %v", want, got)
	}
	if srv.registry.Count() != 1 {
		t.Fatalf("Unsubscribe: want 1 member got %d", srv.registry.Count())
	}

	// A session that never subscribed produces no traffic either.
	aliceConn.clear()
	srv.registry.Unsubscribe(newSession(srv, &recConn{}))
	if f := aliceConn.frames(t); len(f) != 0 {
		t.Fatalf("Unsubscribe: stranger departure announced: %v", f)
	}
}

func TestWhisperDeliversToSenderAndTargetOnly(t *testing.T) {
	srv, _ := newTestServer(t)
	fixedClock(srv)

	alice, aliceConn := addMember(t, srv, "Alice")
	_, bobConn := addMember(t, srv, "Bob")
	_, carolConn := addMember(t, srv, "Carol")
	for _, rc := range []*recConn{aliceConn, bobConn, carolConn} {
		rc.clear()
	}

	srv.registry.SendPrivate(alice, "/w Bob hello there friend")

	want := fixedPrefix + "Alice -> Bob: hello there friend"
	if got := bobConn.frames(t); len(got) != 1 || got[0] != want {
		t.Fatalf("whisper target: want [%q] got %v", want, got)
	}
	if got := aliceConn.frames(t); len(got) != 1 || got[0] != want {
		t.Fatalf("whisper echo: want [%q] got %v", want, got)
	}
	if got := carolConn.frames(t); len(got) != 0 {
		t.Fatalf("whisper leaked to a third member: %v", got)
	}
}

func TestWhisperMissAndMalformedAreSilent(t *testing.T) {
	srv, _ := newTestServer(t)
	alice, aliceConn := addMember(t, srv, "Alice")
	aliceConn.clear()

	srv.registry.SendPrivate(alice, "/w Ghost are you there")
	srv.registry.SendPrivate(alice, "/w Ghost")

	if got := aliceConn.frames(t); len(got) != 0 {
		t.Fatalf("whisper miss: expected silence, got %v", got)
	}
}

func TestBanSuppressesTarget(t *testing.T) {
	srv, _ := newTestServer(t)
	fixedClock(srv)

	admin, adminConn := addMember(t, srv, "Alice", model.RoleUser, model.RoleAdmin)
	bob, bobConn := addMember(t, srv, "Bob")
	adminConn.clear()
	bobConn.clear()

	srv.registry.Ban(admin, "Bob")

	if got := bobConn.frames(t); len(got) != 1 || got[0] != "/banok" {
		t.Fatalf("ban ack: want [/banok] got %v", got)
	}
	wantNotice := fixedPrefix + "User Bob has been blocked"
	if got := adminConn.frames(t); len(got) != 1 || got[0] != wantNotice {
		t.Fatalf("ban notice: want [%q] got %v", wantNotice, got)
	}
	if !bob.suppressed.Load() {
		t.Fatalf("ban: target not suppressed")
	}

	// Suppressed members receive no further chat traffic.
	bobConn.clear()
	srv.registry.Broadcast("Alice: anyone here")
	if got := bobConn.frames(t); len(got) != 0 {
		t.Fatalf("ban: suppressed member still receives broadcasts: %v", got)
	}

	// But control acknowledgements still get through.
	bob.Send("/exitok")
	if got := bobConn.frames(t); len(got) != 1 || got[0] != "/exitok" {
		t.Fatalf("ban: /exitok not delivered to suppressed member: %v", got)
	}
}

func TestBanUnknownTargetNotifiesActor(t *testing.T) {
	srv, _ := newTestServer(t)
	fixedClock(srv)

	admin, adminConn := addMember(t, srv, "Alice", model.RoleAdmin)
	adminConn.clear()

	srv.registry.Ban(admin, "Ghost")

	want := fixedPrefix + "User Ghost is not in the chat"
	if got := adminConn.frames(t); len(got) != 1 || got[0] != want {
		t.Fatalf("ban miss: want [%q] got %v", want, got)
	}
}

func TestRenameSkipsUniquenessCheck(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _ = addMember(t, srv, "Alice")
	bob, _ := addMember(t, srv, "Bob")

	srv.registry.Rename(bob, "Alice")

	if bob.Username() != "Alice" {
		t.Fatalf("Rename: want Alice got %q", bob.Username())
	}
	names := srv.registry.ActiveNames()
	if len(names) != 2 || names[0] != "Alice" || names[1] != "Alice" {
		t.Fatalf("Rename: duplicate names not allowed through: %v", names)
	}
	if srv.registry.IsUsernameBusy("Bob") {
		t.Fatalf("Rename: old name still reported busy")
	}
}

func TestSendActiveList(t *testing.T) {
	srv, _ := newTestServer(t)
	alice, aliceConn := addMember(t, srv, "Alice")
	addMember(t, srv, "Bob")
	aliceConn.clear()

	srv.registry.SendActiveList(alice)

	got := aliceConn.frames(t)
	want := "In chat:\nAlice\nBob"
	if len(got) != 1 || got[0] != want {
		t.Fatalf("active list: want [%q] got %v", want, got)
	}
}

func TestSweepIdleEvictsOnlyStaleSessions(t *testing.T) {
	srv, _ := newTestServer(t)

	stale, staleConn := addMember(t, srv, "Alice")
	fresh, freshConn := addMember(t, srv, "Bob")
	stale.lastActive.Store(time.Now().Add(-time.Hour).UnixNano())
	staleConn.clear()
	freshConn.clear()

	if n := srv.registry.SweepIdle(20 * time.Minute); n != 1 {
		t.Fatalf("SweepIdle: want 1 eviction got %d", n)
	}

	if stale.alive.Load() {
		t.Fatalf("SweepIdle: stale session still alive")
	}
	got := staleConn.frames(t)
	if len(got) != 2 || !strings.Contains(got[0], "inactive") || got[1] != "/exitok" {
		t.Fatalf("SweepIdle: want idle notice + /exitok got %v", got)
	}

	if !fresh.alive.Load() {
		t.Fatalf("SweepIdle: fresh session evicted")
	}
	if f := freshConn.frames(t); len(f) != 0 {
		t.Fatalf("SweepIdle: fresh session received traffic: %v", f)
	}

	// A second sweep leaves the already-disabled session alone.
	if n := srv.registry.SweepIdle(20 * time.Minute); n != 0 {
		t.Fatalf("SweepIdle repeat: want 0 evictions got %d", n)
	}
}

func TestDisableAll(t *testing.T) {
	srv, _ := newTestServer(t)
	alice, aliceConn := addMember(t, srv, "Alice")
	bob, bobConn := addMember(t, srv, "Bob")
	aliceConn.clear()
	bobConn.clear()

	srv.registry.DisableAll()

	if alice.alive.Load() || bob.alive.Load() {
		t.Fatalf("DisableAll: sessions still alive")
	}
	for i, rc := range []*recConn{aliceConn, bobConn} {
		if got := rc.frames(t); len(got) != 1 || got[0] != "/exitok" {
			t.Fatalf("DisableAll: member %d want [/exitok] got %v", i, got)
		}
	}
}

func TestSendFailureKillsSession(t *testing.T) {
	srv, _ := newTestServer(t)
	fc := &failConn{}
	s := newSession(srv, fc)

	done := make(chan struct{})
	go func() {
		s.Send("hello")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Send: did not return after a write failure")
	}

	if s.alive.Load() {
		t.Fatalf("Send: session still alive after a write failure")
	}
	if !fc.closed.Load() {
		t.Fatalf("Send: broken transport left open")
	}
}

func TestBroadcastSurvivesMemberWriteFailure(t *testing.T) {
	srv, _ := newTestServer(t)
	fixedClock(srv)

	_, aliceConn := addMember(t, srv, "Alice")

	broken := newSession(srv, &failConn{})
	if err := srv.registry.Subscribe(broken, &auth.Identity{
		Username: "Bob",
		Roles:    model.NewRoleSet(model.RoleUser),
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	aliceConn.clear()

	done := make(chan struct{})
	go func() {
		srv.registry.Broadcast("Alice: anyone there")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Broadcast: hung on a member with a broken transport")
	}

	want := fixedPrefix + "Alice: anyone there"
	if got := aliceConn.frames(t); len(got) != 1 || got[0] != want {
		t.Fatalf("Broadcast: healthy member want [%q] got %v", want, got)
	}
	if broken.alive.Load() {
		t.Fatalf("Broadcast: broken member still alive")
	}

	// The registry stays usable afterwards.
	if srv.registry.Count() != 2 {
		t.Fatalf("Count: want 2 got %d", srv.registry.Count())
	}
	addMember(t, srv, "Carol")
}

func TestSendSkipsDeadSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	alice, aliceConn := addMember(t, srv, "Alice")
	aliceConn.clear()

	alice.disable()
	aliceConn.clear()
	alice.Send("hello")
	if got := aliceConn.frames(t); len(got) != 0 {
		t.Fatalf("Send: dead session received chat text: %v", got)
	}

	alice.Send("/banok")
	if got := aliceConn.frames(t); len(got) != 1 || got[0] != "/banok" {
		t.Fatalf("Send: control ack not delivered to dead session: %v", got)
	}
}
