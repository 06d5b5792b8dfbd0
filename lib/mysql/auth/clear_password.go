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

// clearPasswordPlugin implements mysql_clear_password: the password is sent
// as-is, NUL-terminated. The server side (PAM, LDAP) does the verification.
//
// https://dev.mysql.com/doc/refman/8.0/en/cleartext-pluggable-authentication.html
type clearPasswordPlugin struct {
	basePlugin
}

func newClearPasswordPlugin(desc Descriptor, cfg *Config, d *Dispatcher) Plugin {
	return &clearPasswordPlugin{basePlugin{
		name:       desc.Name,
		challenge:  desc.Challenge,
		cfg:        cfg,
		dispatcher: d,
	}}
}

func (p *clearPasswordPlugin) Start(out PacketWriter, sess *Session) error {
	payload := append([]byte(p.cfg.Password), 0x00)
	return trace.Wrap(out.WritePacket(payload))
}

func (p *clearPasswordPlugin) OnPacket(pkt *protocol.Cursor, out PacketWriter, sess *Session) error {
	marker, err := pkt.Peek()
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(unexpectedPacketError(marker))
}
