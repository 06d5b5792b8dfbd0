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
	"crypto/sha256"

	"github.com/gravitational/trace"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

// cachingSha2Plugin implements caching_sha2_password, the SHA256
// challenge-response mechanism with server-side credential caching. The
// fast path is a single scramble round; a cache miss escalates to full
// authentication, which either sends the password over a secure transport
// or seals it with the server RSA public key.
//
// https://dev.mysql.com/doc/refman/8.0/en/caching-sha2-pluggable-authentication.html
type cachingSha2Plugin struct {
	basePlugin

	// awaitingPublicKey is set between the public key retrieval request
	// and the server's AuthMoreData response carrying the PEM key.
	awaitingPublicKey bool
}

func newCachingSha2Plugin(desc Descriptor, cfg *Config, d *Dispatcher) Plugin {
	return &cachingSha2Plugin{basePlugin: basePlugin{
		name:       desc.Name,
		challenge:  desc.Challenge,
		cfg:        cfg,
		dispatcher: d,
	}}
}

func (p *cachingSha2Plugin) Start(out PacketWriter, sess *Session) error {
	if p.cfg.Password == "" {
		return trace.Wrap(out.WritePacket(nil))
	}
	token := scrambleSha256(scrambleSeed(p.challenge), []byte(p.cfg.Password))
	return trace.Wrap(out.WritePacket(token))
}

func (p *cachingSha2Plugin) OnPacket(pkt *protocol.Cursor, out PacketWriter, sess *Session) error {
	marker, err := pkt.ReadByte()
	if err != nil {
		return trace.Wrap(err)
	}
	if marker != protocol.MoreDataHeader {
		return trace.Wrap(unexpectedPacketError(marker))
	}
	if p.awaitingPublicKey {
		p.awaitingPublicKey = false
		key, err := parseServerPublicKey(pkt.ReadRemainingBytes())
		if err != nil {
			return trace.Wrap(err)
		}
		sealed, err := encryptPassword(key, scrambleSeed(p.challenge), p.cfg.Password)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(out.WritePacket(sealed))
	}
	status, err := pkt.ReadByte()
	if err != nil {
		return trace.Wrap(err)
	}
	switch status {
	case protocol.CacheSha2FastAuthSuccess:
		// Scramble matched the cache; the terminal OK packet follows.
		return nil
	case protocol.CacheSha2FullAuth:
		return trace.Wrap(p.fullAuth(out, sess))
	default:
		return trace.BadParameter("unexpected caching_sha2_password status %#x", status)
	}
}

// fullAuth runs the full authentication exchange after a cache miss.
func (p *cachingSha2Plugin) fullAuth(out PacketWriter, sess *Session) error {
	if sess.Secure {
		return trace.Wrap(out.WritePacket(append([]byte(p.cfg.Password), 0x00)))
	}
	if p.cfg.ServerPublicKey != nil {
		sealed, err := encryptPassword(p.cfg.ServerPublicKey, scrambleSeed(p.challenge), p.cfg.Password)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(out.WritePacket(sealed))
	}
	if !p.cfg.AllowPublicKeyRetrieval {
		return trace.Wrap(publicKeyRetrievalError(p.name))
	}
	p.awaitingPublicKey = true
	return trace.Wrap(out.WritePacket([]byte{protocol.CacheSha2RequestPublicKey}))
}

// CredentialHash returns SHA256(SHA256(password)), the stored credential
// form of this mechanism, for certificate fingerprint validation.
func (p *cachingSha2Plugin) CredentialHash(cfg *Config) ([]byte, error) {
	stage1 := sha256.Sum256([]byte(cfg.Password))
	stage2 := sha256.Sum256(stage1[:])
	return stage2[:], nil
}

// scrambleSha256 computes
// SHA256(password) XOR SHA256(SHA256(SHA256(password)) || seed).
func scrambleSha256(seed, password []byte) []byte {
	stage1 := sha256.Sum256(password)
	stage2 := sha256.Sum256(stage1[:])

	h := sha256.New()
	h.Write(stage2[:])
	h.Write(seed)
	token := h.Sum(nil)

	for i := range token {
		token[i] ^= stage1[i]
	}
	return token
}
