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

const (
	// PacketHeaderSize is the size of the packet framing header: 3-byte
	// little-endian payload length followed by a 1-byte sequence number.
	PacketHeaderSize = 4

	// MaxPayloadLength is the largest payload that fits in a single packet.
	// Larger payloads are split across multiple packets.
	MaxPayloadLength = 1<<24 - 1
)

// Leading marker bytes of the generic response packets.
//
// https://dev.mysql.com/doc/internals/en/generic-response-packets.html
const (
	// OKHeader marks an OK_Packet.
	OKHeader byte = 0x00
	// MoreDataHeader marks an AuthMoreData packet sent by authentication
	// plugins that need extra round trips.
	MoreDataHeader byte = 0x01
	// EOFHeader marks an EOF_Packet, also reused as the header of the
	// AuthSwitchRequest packet during the connection phase.
	EOFHeader byte = 0xfe
	// ErrHeader marks an ERR_Packet.
	ErrHeader byte = 0xff
)

// Capability is a bitmask of client/server capability flags negotiated in
// the initial handshake.
//
// https://dev.mysql.com/doc/internals/en/capability-flags.html
type Capability uint32

const (
	ClientLongPassword Capability = 1 << iota
	ClientFoundRows
	ClientLongFlag
	ClientConnectWithDB
	ClientNoSchema
	ClientCompress
	ClientODBC
	ClientLocalFiles
	ClientIgnoreSpace
	ClientProtocol41
	ClientInteractive
	ClientSSL
	ClientIgnoreSIGPIPE
	ClientTransactions
	ClientReserved
	ClientSecureConnection
	ClientMultiStatements
	ClientMultiResults
	ClientPSMultiResults
	ClientPluginAuth
	ClientConnectAttrs
	ClientPluginAuthLenEncClientData
	ClientCanHandleExpiredPasswords
	ClientSessionTrack
	ClientDeprecateEOF
)

// Has reports whether all bits of flag are set in the capability mask.
func (c Capability) Has(flag Capability) bool {
	return c&flag == flag
}

// StatusFlag is a bitmask of server status flags returned in OK and EOF
// packets.
type StatusFlag uint16

const (
	ServerStatusInTrans StatusFlag = 1 << iota
	ServerStatusAutocommit
	_ // not documented
	ServerMoreResultsExists
	ServerStatusNoGoodIndexUsed
	ServerStatusNoIndexUsed
	ServerStatusCursorExists
	ServerStatusLastRowSent
	ServerStatusDBDropped
	ServerStatusNoBackslashEscapes
	ServerStatusMetadataChanged
	ServerQueryWasSlow
	ServerPSOutParams
	ServerStatusInTransReadonly
	ServerSessionStateChanged
)

// Sub-status bytes exchanged by the caching_sha2_password mechanism inside
// AuthMoreData packets.
const (
	CacheSha2RequestPublicKey byte = 2
	CacheSha2FastAuthSuccess  byte = 3
	CacheSha2FullAuth         byte = 4
)

// Length-encoded integer prefix markers.
//
// https://dev.mysql.com/doc/internals/en/integer.html#packet-Protocol::LengthEncodedInteger
const (
	lenEncNull  byte = 0xfb
	lenEnc2Byte byte = 0xfc
	lenEnc3Byte byte = 0xfd
	lenEnc8Byte byte = 0xfe
)
