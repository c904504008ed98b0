package server

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/AleksandrAfonin/console-chat/pkg/auth"
	"github.com/AleksandrAfonin/console-chat/pkg/model"
)

// ErrUsernameBusy is returned by Subscribe when the resolved identity is
// already connected. The text is relayed to the client as-is.
var ErrUsernameBusy = errors.New("the specified account is already in use")

// Registry is the shared collection of authenticated sessions and the
// dispatcher that delivers text to them.
//
// One mutex serializes every membership mutation and every fan-out, so a
// broadcast never observes a half-updated member list and two broadcasts
// never interleave. Session identity fields (username, roles) are guarded
// by the same mutex; see Session.
type Registry struct {
	mu       sync.Mutex
	sessions []*Session // insertion order = join order = delivery order
	metrics  *Metrics
	now      func() time.Time
}

// NewRegistry creates an empty registry reporting into the given metrics.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		metrics: metrics,
		now:     time.Now,
	}
}

// timePrefix formats the dispatch timestamp: "(HH:MM:SS) ".
func (r *Registry) timePrefix() string {
	return "(" + r.now().Format("15:04:05") + ") "
}

// Subscribe atomically checks that the identity's username is free and, if
// so, announces the new member to the current membership, stamps the
// session with its identity, and adds it to the registry. The busy check
// and the insertion are one critical section: two concurrent logins for
// the same identity cannot both get in.
func (r *Registry) Subscribe(s *Session, identity *auth.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.busyLocked(identity.Username) {
		return ErrUsernameBusy
	}

	// Announce before inserting: the join notice goes to the existing
	// membership, not to the joining session itself.
	r.broadcastLocked(identity.Username + " joined the chat")

	s.username = identity.Username
	s.roles = identity.Roles
	r.sessions = append(r.sessions, s)
	return nil
}

// Unsubscribe removes a session from the registry and announces its
// departure. Unsubscribing a session that is not registered (never
// authenticated, or already removed) has no observable effect.
func (r *Registry) Unsubscribe(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.sessions {
		if c == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			r.broadcastLocked(s.username + " left the chat")
			return
		}
	}
}

// Broadcast timestamp-prefixes text and delivers it to every registered
// session in join order.
func (r *Registry) Broadcast(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(text)
}

func (r *Registry) broadcastLocked(text string) {
	msg := r.timePrefix() + text
	for _, c := range r.sessions {
		c.Send(msg)
	}
	r.metrics.BroadcastsSent.Add(1)
}

// SendPrivate parses a raw "/w <user> <text>" command and, on a target-name
// match, delivers the formatted line to both target and sender. Malformed
// commands and misses are dropped without feedback; ban lookups behave
// differently on purpose (see Ban).
func (r *Registry) SendPrivate(sender *Session, rawCommand string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parts := strings.SplitN(rawCommand, " ", 3)
	if len(parts) < 3 {
		return
	}

	msg := r.timePrefix() + sender.username + " -> " + parts[1] + ": " + parts[2]
	for _, c := range r.sessions {
		if c.username == parts[1] {
			c.Send(msg)
			sender.Send(msg)
			r.metrics.PrivatesSent.Add(1)
			break
		}
	}
}

// IsUsernameBusy reports whether a registered session holds the username.
func (r *Registry) IsUsernameBusy(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busyLocked(name)
}

func (r *Registry) busyLocked(name string) bool {
	for _, c := range r.sessions {
		if c.username == name {
			return true
		}
	}
	return false
}

// Ban finds the target by exact username, acknowledges it with /banok,
// notifies the actor, and marks the target suppressed. An unknown target
// is reported back to the actor.
func (r *Registry) Ban(actor *Session, targetName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.sessions {
		if c.username == targetName {
			c.Send("/banok")
			actor.Send(r.timePrefix() + "User " + targetName + " has been blocked")
			c.suppressed.Store(true)
			r.metrics.BansIssued.Add(1)
			return
		}
	}
	actor.Send(r.timePrefix() + "User " + targetName + " is not in the chat")
}

// SendActiveList replies to the requester with a newline-separated list of
// all registered usernames, in join order.
func (r *Registry) SendActiveList(to *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	b.WriteString("In chat:")
	for _, c := range r.sessions {
		b.WriteString("\n")
		b.WriteString(c.username)
	}
	to.Send(b.String())
}

// Rename changes a session's displayed identity in place.
//
// There is deliberately no uniqueness check here: the original protocol
// allows two members to end up with the same display name, which then
// breaks /w lookup-by-name for one of them. Kept as-is.
func (r *Registry) Rename(s *Session, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.username = name
	r.metrics.NickChanges.Add(1)
}

// UpdateRoles replaces the role set of the registered session holding the
// username. Returns false if no such session is connected.
func (r *Registry) UpdateRoles(username string, roles model.RoleSet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.sessions {
		if c.username == username {
			c.roles = roles
			return true
		}
	}
	return false
}

// SweepIdle disables every registered session whose last activity is older
// than threshold, after sending it an idle notice. Eviction is advisory:
// the session is only closed here when it was created with force-close
// enabled, otherwise its read loop notices on the next read. Returns the
// number of sessions evicted.
func (r *Registry) SweepIdle(threshold time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := 0
	for _, c := range r.sessions {
		if !c.alive.Load() {
			continue
		}
		if now.Sub(c.LastActive()) > threshold {
			c.Send("You were inactive for more than " + threshold.String() + " and left the chat.")
			c.disable()
			evicted++
		}
	}
	return evicted
}

// DisableAll disables every registered session. Used at shutdown.
func (r *Registry) DisableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.sessions {
		c.disable()
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ActiveNames returns the registered usernames in join order.
func (r *Registry) ActiveNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.sessions))
	for _, c := range r.sessions {
		names = append(names, c.username)
	}
	return names
}
