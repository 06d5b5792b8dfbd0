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

package auth

import (
	"crypto/rsa"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

// ComponentAuth is the component attribute attached to log entries emitted
// by this package.
const ComponentAuth = "mysql:auth"

// PacketWriter writes one outbound protocol packet. Framing and sequence
// numbering are the transport's responsibility.
type PacketWriter interface {
	// WritePacket writes a single packet payload to the server.
	WritePacket(payload []byte) error
}

// PromptFunc answers one prompt of an interactive authentication exchange.
// echo reports whether the user's answer may be displayed while typed.
type PromptFunc func(prompt string, echo bool) (string, error)

// Config is the client configuration consumed by the handshake layer.
type Config struct {
	// User is the username to authenticate as.
	User string
	// Password is the credential secret presented to the server.
	Password string
	// RestrictedAuth optionally restricts the authentication mechanisms the
	// client is willing to execute. Empty means any supported mechanism.
	RestrictedAuth []string
	// AllowPublicKeyRetrieval permits fetching the server RSA public key
	// over an insecure transport for the sha256 password mechanisms.
	AllowPublicKeyRetrieval bool
	// ServerPublicKey is an out-of-band copy of the server RSA public key.
	// When set, the sha256 password mechanisms never request it on the wire.
	ServerPublicKey *rsa.PublicKey
	// Prompt answers interactive (dialog) authentication prompts beyond the
	// first password exchange.
	Prompt PromptFunc
	// Clock is used for handshake timing. Defaults to the real clock.
	Clock clockwork.Clock
	// Logger is the logger handshake events are emitted to.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the configuration and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.User == "" {
		return trace.BadParameter("missing User")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", ComponentAuth)
	}
	return nil
}

// Session is the mutable context of a single authentication conversation.
// It is exclusively owned by the one connection that is authenticating and
// must never be shared across connections, so no locking is required.
type Session struct {
	// ID identifies the handshake in logs.
	ID uuid.UUID
	// Capabilities is the capability mask negotiated between client and
	// server in the initial handshake.
	Capabilities protocol.Capability
	// Seed is the random authentication seed issued by the server.
	Seed []byte
	// Sequence is the packet sequence counter.
	Sequence uint8
	// CompressSequence is the compressed-protocol sequence counter.
	CompressSequence uint8
	// Status is the last server status field reported in an OK packet.
	Status protocol.StatusFlag
	// Secure indicates the transport is trusted end to end (TLS or a local
	// socket), allowing cleartext credential exchange where a mechanism
	// supports it.
	Secure bool
	// RequireValidCert indicates the certificate-trust policy demands
	// validation even when a self-signed certificate was accepted.
	RequireValidCert bool
	// SelfSignedCert indicates the TLS session trusted a self-signed
	// certificate.
	SelfSignedCert bool
	// CertFingerprint is the hex-encoded fingerprint of the peer
	// certificate, set when SelfSignedCert is set.
	CertFingerprint string
	// Authenticated is set once the server accepted the credentials.
	Authenticated bool

	startedAt time.Time
}

// NewSession returns a session for a new authentication conversation.
func NewSession(clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		ID:        uuid.New(),
		startedAt: clock.Now(),
	}
}
