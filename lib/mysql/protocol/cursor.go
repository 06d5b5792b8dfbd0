/*
 * mysqlauth
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/gravitational/trace"
)

// Cursor is a sequential reader over a single packet payload. All read
// methods advance the cursor; a read past the end of the payload returns a
// truncation error rather than panicking.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a cursor positioned at the start of the payload. The
// payload must not include the 4-byte framing header.
func NewCursor(payload []byte) *Cursor {
	return &Cursor{buf: payload}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Peek returns the next byte without advancing the cursor.
func (c *Cursor) Peek() (byte, error) {
	if c.Remaining() < 1 {
		return 0, trace.BadParameter("packet truncated: expected at least 1 more byte")
	}
	return c.buf[c.pos], nil
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) error {
	if c.Remaining() < n {
		return trace.BadParameter("packet truncated: cannot skip %v bytes, %v remaining", n, c.Remaining())
	}
	c.pos += n
	return nil
}

// ReadByte reads a single byte.
func (c *Cursor) ReadByte() (byte, error) {
	b, err := c.Peek()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	c.pos++
	return b, nil
}

// ReadUint16 reads a little-endian uint16.
func (c *Cursor) ReadUint16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, trace.BadParameter("packet truncated: expected 2 more bytes, have %v", c.Remaining())
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

// ReadUint32 reads a little-endian uint32.
func (c *Cursor) ReadUint32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, trace.BadParameter("packet truncated: expected 4 more bytes, have %v", c.Remaining())
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

// ReadLengthEncodedInt reads a length-encoded integer. The second return
// value reports the NULL marker (0xfb).
func (c *Cursor) ReadLengthEncodedInt() (value uint64, isNull bool, err error) {
	b, err := c.ReadByte()
	if err != nil {
		return 0, false, trace.Wrap(err)
	}
	var size int
	switch b {
	case lenEncNull:
		return 0, true, nil
	case lenEnc2Byte:
		size = 2
	case lenEnc3Byte:
		size = 3
	case lenEnc8Byte:
		size = 8
	default:
		return uint64(b), false, nil
	}
	if c.Remaining() < size {
		return 0, false, trace.BadParameter("packet truncated: length-encoded integer of %v bytes, have %v", size, c.Remaining())
	}
	for i := 0; i < size; i++ {
		value |= uint64(c.buf[c.pos+i]) << (8 * i)
	}
	c.pos += size
	return value, false, nil
}

// SkipLengthEncodedNumber reads and discards a length-encoded integer.
func (c *Cursor) SkipLengthEncodedNumber() error {
	_, _, err := c.ReadLengthEncodedInt()
	return trace.Wrap(err)
}

// ReadLengthEncodedBuffer reads a length-encoded byte buffer. Returns nil
// for the NULL marker.
func (c *Cursor) ReadLengthEncodedBuffer() ([]byte, error) {
	length, isNull, err := c.ReadLengthEncodedInt()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if isNull {
		return nil, nil
	}
	if uint64(c.Remaining()) < length {
		return nil, trace.BadParameter("packet truncated: length-encoded buffer of %v bytes, have %v", length, c.Remaining())
	}
	buf := c.buf[c.pos : c.pos+int(length)]
	c.pos += int(length)
	return buf, nil
}

// ReadStringNullEnded reads bytes up to, but not including, the next NUL
// byte and positions the cursor after it.
func (c *Cursor) ReadStringNullEnded() (string, error) {
	for i := c.pos; i < len(c.buf); i++ {
		if c.buf[i] == 0x00 {
			s := string(c.buf[c.pos:i])
			c.pos = i + 1
			return s, nil
		}
	}
	return "", trace.BadParameter("packet truncated: unterminated string")
}

// ReadRemainingBytes returns all unread bytes and exhausts the cursor.
func (c *Cursor) ReadRemainingBytes() []byte {
	buf := c.buf[c.pos:]
	c.pos = len(c.buf)
	return buf
}

// ServerError is an error reported by the server in an ERR_Packet.
type ServerError struct {
	// Code is the server error code.
	Code uint16
	// State is the SQLSTATE marker, empty if the server did not include one.
	State string
	// Message is the human readable error message.
	Message string
}

// Error returns the error message.
func (e *ServerError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("(%v) (%v): %v", e.Code, e.State, e.Message)
	}
	return fmt.Sprintf("(%v): %v", e.Code, e.Message)
}

// ReadError parses the remainder of an ERR_Packet payload. The cursor must
// be positioned after the 0xff marker byte. The context string is prepended
// to the server message for diagnosis.
//
// https://dev.mysql.com/doc/internals/en/packet-ERR_Packet.html
func (c *Cursor) ReadError(context string) (*ServerError, error) {
	code, err := c.ReadUint16()
	if err != nil {
		return nil, trace.Wrap(err, "failed to parse ERR packet")
	}
	var state string
	// Protocol 4.1 includes a '#' marker followed by a 5-byte SQLSTATE.
	if b, err := c.Peek(); err == nil && b == '#' {
		if err := c.Skip(1); err != nil {
			return nil, trace.Wrap(err)
		}
		if c.Remaining() < 5 {
			return nil, trace.BadParameter("packet truncated: expected 5-byte SQLSTATE, have %v", c.Remaining())
		}
		state = string(c.buf[c.pos : c.pos+5])
		c.pos += 5
	}
	message := string(c.ReadRemainingBytes())
	if context != "" {
		message = context + ": " + message
	}
	return &ServerError{
		Code:    code,
		State:   state,
		Message: message,
	}, nil
}
