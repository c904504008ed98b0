package server

import (
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleksandrAfonin/console-chat/pkg/model"
	"github.com/AleksandrAfonin/console-chat/pkg/protocol"
	"github.com/AleksandrAfonin/console-chat/pkg/rbac"
)

const authReminder = "Authenticate with '/auth login password' or register with " +
	"'/register login password username' before chatting"

// Session is the per-connection state machine. Each session runs its own
// goroutine: an unauthenticated phase that only understands /auth,
// /register and /exit, then the chat phase.
//
// username and roles are guarded by the registry mutex once the session is
// subscribed; before that the session goroutine owns them exclusively.
// suppressed, alive and lastActive are atomics so the sweeper and the
// dispatcher can read them without holding the session's write lock.
type Session struct {
	srv  *Server
	conn net.Conn

	// writeMu serializes frame writes; delivery may come from the
	// registry (under its mutex) or from this session's own goroutine.
	writeMu sync.Mutex

	username string
	roles    model.RoleSet

	inChat     atomic.Bool // authenticated and subscribed
	suppressed atomic.Bool // banned: outbound delivery stops, only /exit works
	alive      atomic.Bool // false after disable(); read loop exits on next message
	lastActive atomic.Int64

	forceClose bool
	once       sync.Once
}

func newSession(srv *Server, conn net.Conn) *Session {
	s := &Session{
		srv:        srv,
		conn:       conn,
		forceClose: srv.cfg.ForceCloseOnDisable,
	}
	s.alive.Store(true)
	s.touch()
	return s
}

// Username returns the session's display name under the registry lock.
func (s *Session) Username() string {
	s.srv.registry.mu.Lock()
	defer s.srv.registry.mu.Unlock()
	return s.username
}

// Roles returns the session's role set under the registry lock.
func (s *Session) Roles() model.RoleSet {
	s.srv.registry.mu.Lock()
	defer s.srv.registry.mu.Unlock()
	return model.NewRoleSet(s.roles.All()...)
}

// LastActive returns the time of the session's last countable activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// touch records chat activity for the idle sweeper. Only chat text and
// private messages count; command traffic does not reset the clock.
func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// Send delivers one message to the client. Delivery is skipped for dead or
// suppressed sessions, except the control acknowledgements /exitok and
// /banok which always go through so the client learns why it was cut off.
// A failed write kills the session.
func (s *Session) Send(msg string) {
	if msg != "/exitok" && msg != "/banok" {
		if !s.alive.Load() || s.suppressed.Load() {
			return
		}
	}

	s.writeMu.Lock()
	err := protocol.WriteMessage(s.conn, msg)
	s.writeMu.Unlock()
	if err != nil {
		slog.Debug("session write failed", "remote", s.conn.RemoteAddr(), "err", err)
		s.markDead()
	}
}

// markDead stops delivery and closes the transport without a farewell
// frame. Used when a write has already failed: nothing more can get
// through, and the close unblocks the session's read loop.
func (s *Session) markDead() {
	if s.alive.CompareAndSwap(true, false) {
		_ = s.conn.Close()
	}
}

// disable ends the session's participation: the farewell acknowledgement is
// sent, delivery stops, and the read loop exits on the next inbound
// message. The transport is only closed here when force-close is on.
func (s *Session) disable() {
	if !s.alive.CompareAndSwap(true, false) {
		return
	}
	s.writeMu.Lock()
	_ = protocol.WriteMessage(s.conn, "/exitok")
	s.writeMu.Unlock()
	if s.forceClose {
		_ = s.conn.Close()
	}
}

// disconnect tears the session down exactly once: removes it from the
// registry, closes the transport and updates the counters. Safe to call
// from any path; later calls are no-ops.
func (s *Session) disconnect() {
	s.once.Do(func() {
		if s.inChat.Load() {
			s.srv.registry.Unsubscribe(s)
		}
		_ = s.conn.Close()
		s.srv.metrics.ActiveConnections.Add(-1)
		s.srv.metrics.TotalDisconnects.Add(1)
	})
}

// run drives the session: authentication first, then chat. Returns when
// the peer goes away or the session is disabled.
func (s *Session) run() {
	defer s.disconnect()

	if !s.authPhase() {
		return
	}
	s.chatPhase()
}

// authPhase reads messages until the session authenticates, exits, or the
// transport fails. Returns true when the session entered the chat.
func (s *Session) authPhase() bool {
	for {
		msg, err := protocol.ReadMessage(s.conn)
		if err != nil {
			return false
		}
		if !s.alive.Load() {
			return false
		}

		switch {
		case msg == "/exit":
			s.Send("/exitok")
			return false

		case strings.HasPrefix(msg, "/auth "):
			if s.tryAuth(msg) {
				return true
			}

		case strings.HasPrefix(msg, "/register "):
			if s.tryRegister(msg) {
				return true
			}

		default:
			s.Send(authReminder)
		}
	}
}

// tryAuth handles "/auth login password". Returns true on entering the chat.
func (s *Session) tryAuth(msg string) bool {
	tokens := strings.Split(msg, " ")
	if len(tokens) != 3 {
		s.Send("Invalid /auth command format (/auth login password)")
		return false
	}

	identity, err := s.srv.gateway.Authenticate(tokens[1], tokens[2])
	if err != nil {
		s.srv.metrics.FailedAuths.Add(1)
		s.Send(err.Error())
		return false
	}

	if err := s.srv.registry.Subscribe(s, identity); err != nil {
		s.srv.metrics.FailedAuths.Add(1)
		s.Send(err.Error())
		return false
	}

	s.inChat.Store(true)
	s.touch()
	s.srv.metrics.SuccessfulAuths.Add(1)
	s.Send("/authok " + identity.Username)
	slog.Info("user authenticated", "username", identity.Username, "remote", s.conn.RemoteAddr())
	return true
}

// tryRegister handles "/register login password username". Returns true on
// entering the chat.
func (s *Session) tryRegister(msg string) bool {
	tokens := strings.Split(msg, " ")
	if len(tokens) != 4 {
		s.Send("Invalid /register command format (/register login password username)")
		return false
	}

	identity, err := s.srv.gateway.Register(tokens[1], tokens[2], tokens[3])
	if err != nil {
		s.Send(err.Error())
		return false
	}

	if err := s.srv.registry.Subscribe(s, identity); err != nil {
		s.Send(err.Error())
		return false
	}

	s.inChat.Store(true)
	s.touch()
	s.srv.metrics.Registrations.Add(1)
	s.Send("/regok " + identity.Username)
	slog.Info("user registered", "username", identity.Username, "remote", s.conn.RemoteAddr())
	return true
}

// chatPhase processes messages from an authenticated member until the
// session ends.
func (s *Session) chatPhase() {
	for {
		msg, err := protocol.ReadMessage(s.conn)
		if err != nil {
			return
		}
		if !s.alive.Load() {
			return
		}

		if msg == "/exit" {
			s.Send("/exitok")
			return
		}

		// A suppressed member may only leave; everything else it sends
		// is discarded.
		if s.suppressed.Load() {
			continue
		}

		if strings.HasPrefix(msg, "/") {
			if s.handleCommand(msg) {
				return
			}
			continue
		}

		s.touch()
		s.srv.registry.Broadcast(s.Username() + ": " + msg)
	}
}

// handleCommand dispatches a slash command from the chat phase. Returns
// true when the session should end (server shutdown). Unrecognized
// commands are silently ignored.
func (s *Session) handleCommand(msg string) bool {
	switch {
	case strings.HasPrefix(msg, "/w "):
		s.touch()
		s.srv.registry.SendPrivate(s, msg)

	case strings.HasPrefix(msg, "/ban "):
		if denied := rbac.RequirePermission(s.Roles(), rbac.PermBanUser); denied != "" {
			s.Send(denied)
			return false
		}
		tokens := strings.Split(msg, " ")
		if len(tokens) != 2 {
			s.Send("Invalid /ban command format (/ban username)")
			return false
		}
		s.srv.registry.Ban(s, tokens[1])

	case strings.HasPrefix(msg, "/changenick "):
		tokens := strings.Split(msg, " ")
		if len(tokens) != 2 {
			s.Send("Invalid /changenick command format (/changenick nickname)")
			return false
		}
		s.srv.registry.Rename(s, tokens[1])
		s.Send("Your nickname is now " + tokens[1])

	case msg == "/activelist":
		s.srv.registry.SendActiveList(s)

	case strings.HasPrefix(msg, "/grantrole "):
		s.manageRole(msg, true)

	case strings.HasPrefix(msg, "/revokerole "):
		s.manageRole(msg, false)

	case msg == "/shutdown":
		if denied := rbac.RequirePermission(s.Roles(), rbac.PermShutdown); denied != "" {
			s.Send(denied)
			return false
		}
		slog.Warn("shutdown requested over the wire", "username", s.Username())
		s.srv.Shutdown()
		return true
	}
	return false
}

// manageRole handles /grantrole and /revokerole:
// "/grantrole username role". The target's live session, if any, picks up
// the new role set immediately.
func (s *Session) manageRole(msg string, grant bool) {
	if denied := rbac.RequirePermission(s.Roles(), rbac.PermManageRoles); denied != "" {
		s.Send(denied)
		return
	}
	tokens := strings.Split(msg, " ")
	if len(tokens) != 3 {
		if grant {
			s.Send("Invalid /grantrole command format (/grantrole username role)")
		} else {
			s.Send("Invalid /revokerole command format (/revokerole username role)")
		}
		return
	}

	role, err := model.ParseRole(tokens[2])
	if err != nil {
		s.Send("Unknown role '" + tokens[2] + "'")
		return
	}

	var roles model.RoleSet
	if grant {
		roles, err = s.srv.gateway.GrantRole(tokens[1], role)
	} else {
		roles, err = s.srv.gateway.RevokeRole(tokens[1], role)
	}
	if err != nil {
		s.Send(err.Error())
		return
	}

	s.srv.registry.UpdateRoles(tokens[1], roles)
	if grant {
		s.Send("Granted role '" + role.String() + "' to " + tokens[1])
	} else {
		s.Send("Revoked role '" + role.String() + "' from " + tokens[1])
	}
}
