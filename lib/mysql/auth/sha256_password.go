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
	"github.com/gravitational/trace"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

// sha256PasswordPlugin implements sha256_password. Over a secure transport
// the password travels in cleartext; otherwise it is sealed with the server
// RSA public key, requested on the wire when not configured out-of-band.
//
// https://dev.mysql.com/doc/refman/8.0/en/sha256-pluggable-authentication.html
type sha256PasswordPlugin struct {
	basePlugin

	awaitingPublicKey bool
}

// sha256RequestPublicKey asks the server to send its RSA public key. The
// request byte differs from the caching_sha2_password one.
const sha256RequestPublicKey byte = 0x01

func newSha256PasswordPlugin(desc Descriptor, cfg *Config, d *Dispatcher) Plugin {
	return &sha256PasswordPlugin{basePlugin: basePlugin{
		name:       desc.Name,
		challenge:  desc.Challenge,
		cfg:        cfg,
		dispatcher: d,
	}}
}

func (p *sha256PasswordPlugin) Start(out PacketWriter, sess *Session) error {
	if p.cfg.Password == "" {
		return trace.Wrap(out.WritePacket([]byte{0x00}))
	}
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
	return trace.Wrap(out.WritePacket([]byte{sha256RequestPublicKey}))
}

func (p *sha256PasswordPlugin) OnPacket(pkt *protocol.Cursor, out PacketWriter, sess *Session) error {
	marker, err := pkt.ReadByte()
	if err != nil {
		return trace.Wrap(err)
	}
	if marker != protocol.MoreDataHeader || !p.awaitingPublicKey {
		return trace.Wrap(unexpectedPacketError(marker))
	}
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
