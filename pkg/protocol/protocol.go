// Package protocol implements the chat wire framing.
//
// Every chat line travels as one frame: a 4-byte big-endian length prefix
// followed by that many bytes of UTF-8 text. There is no other structure,
// no compression, and no multiplexing.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageSize is the maximum frame payload size (64KB).
const MaxMessageSize = 65536

// WriteMessage writes one length-prefixed UTF-8 message to a writer.
func WriteMessage(w io.Writer, msg string) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("protocol: message too large: %d bytes", len(msg))
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(msg))) //nolint:gosec // length already bounds-checked above
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("protocol: write length: %w", err)
	}
	if _, err := io.WriteString(w, msg); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed UTF-8 message from a reader.
func ReadMessage(r io.Reader) (string, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return "", fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxMessageSize {
		return "", fmt.Errorf("protocol: message too large: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("protocol: read payload: %w", err)
	}
	return string(data), nil
}
