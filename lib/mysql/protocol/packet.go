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
	"io"

	"github.com/gravitational/trace"
)

// ReadPacket reads a single protocol packet from the reader and returns its
// sequence number and payload with the framing header stripped.
//
// https://dev.mysql.com/doc/internals/en/mysql-packet.html
func ReadPacket(r io.Reader) (seq uint8, payload []byte, err error) {
	// Packet header is 4 bytes: 3-byte payload length and sequence number.
	header := []byte{0, 0, 0, 0}
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, trace.ConvertSystemError(err)
	}
	payloadLength := int(uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16)
	payload = make([]byte, payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, trace.ConvertSystemError(err)
	}
	return header[3], payload, nil
}

// WritePacket frames the payload with the provided sequence number and writes
// it to the writer. The payload must fit in a single packet.
func WritePacket(w io.Writer, seq uint8, payload []byte) (int, error) {
	if len(payload) > MaxPayloadLength {
		return 0, trace.BadParameter("payload of %v bytes exceeds maximum packet size", len(payload))
	}
	pkt := make([]byte, 0, PacketHeaderSize+len(payload))
	pkt = append(pkt,
		byte(len(payload)),
		byte(len(payload)>>8),
		byte(len(payload)>>16),
		seq)
	pkt = append(pkt, payload...)
	n, err := w.Write(pkt)
	if err != nil {
		return 0, trace.ConvertSystemError(err)
	}
	return n, nil
}

// AppendLengthEncodedInt appends the length-encoded form of n to the buffer.
//
// https://dev.mysql.com/doc/internals/en/integer.html#packet-Protocol::LengthEncodedInteger
func AppendLengthEncodedInt(buf []byte, n uint64) []byte {
	switch {
	case n <= 250:
		return append(buf, byte(n))
	case n <= 0xffff:
		return append(buf, lenEnc2Byte, byte(n), byte(n>>8))
	case n <= 0xffffff:
		return append(buf, lenEnc3Byte, byte(n), byte(n>>8), byte(n>>16))
	default:
		return append(buf, lenEnc8Byte, byte(n), byte(n>>8), byte(n>>16), byte(n>>24),
			byte(n>>32), byte(n>>40), byte(n>>48), byte(n>>56))
	}
}

// AppendLengthEncodedBuffer appends the length-encoded length of b followed
// by b itself.
func AppendLengthEncodedBuffer(buf, b []byte) []byte {
	buf = AppendLengthEncodedInt(buf, uint64(len(b)))
	return append(buf, b...)
}
