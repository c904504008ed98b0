// Package client implements the console chat client: it dials the server,
// prints incoming messages, and forwards typed lines as protocol frames.
package client

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"

	"github.com/AleksandrAfonin/console-chat/pkg/protocol"
)

// Client connects a terminal to a chat server.
type Client struct {
	addr string

	conn net.Conn
	in   io.Reader
	out  io.Writer

	stopped atomic.Bool
	done    chan struct{}
}

// New creates a client that will dial addr and bridge it to the given
// terminal streams.
func New(addr string, in io.Reader, out io.Writer) *Client {
	return &Client{
		addr: addr,
		in:   in,
		out:  out,
		done: make(chan struct{}),
	}
}

// Run dials the server and bridges terminal and connection until the
// server acknowledges an exit, the connection drops, or terminal input
// ends.
func (c *Client) Run() error {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("client: connect to %s: %w", c.addr, err)
	}
	c.conn = conn
	defer conn.Close()

	c.printf("Connected to %s", c.addr)
	c.printf("Sign in with '/auth login password' or create an account with '/register login password username'")

	go c.readLoop()
	c.inputLoop()

	<-c.done
	return nil
}

// readLoop prints server messages until the connection ends.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		msg, err := protocol.ReadMessage(c.conn)
		if err != nil {
			if !c.stopped.Load() {
				c.printf("Connection lost: %v", err)
			}
			c.stop()
			return
		}

		switch {
		case msg == "/exitok":
			c.printf("Disconnected. Bye!")
			c.stop()
			return

		case msg == "/banok":
			c.printf("You have been blocked and can no longer send messages. Type /exit to leave.")

		case strings.HasPrefix(msg, "/authok "):
			c.printf("Signed in as %s", strings.TrimPrefix(msg, "/authok "))

		case strings.HasPrefix(msg, "/regok "):
			c.printf("Account created. You are now %s", strings.TrimPrefix(msg, "/regok "))

		default:
			c.printf("%s", msg)
		}
	}
}

// inputLoop forwards typed lines to the server until input ends or the
// client stops.
func (c *Client) inputLoop() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if c.stopped.Load() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := protocol.WriteMessage(c.conn, line); err != nil {
			slog.Debug("write failed", "err", err)
			c.stop()
			return
		}
		if line == "/exit" {
			// The read loop finishes once /exitok arrives.
			return
		}
	}
	// Terminal input ended (EOF): ask the server for a clean exit.
	_ = protocol.WriteMessage(c.conn, "/exit")
}

// stop marks the client stopped and closes the connection so both loops
// unblock.
func (c *Client) stop() {
	if c.stopped.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
}

func (c *Client) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format+"\n", args...)
}
