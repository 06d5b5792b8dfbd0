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

// Prompt type bytes of the dialog mechanism. The low bit signals the last
// question of a round.
const (
	dialogPromptNoEcho byte = 0x02
	dialogPromptEcho   byte = 0x04
)

// dialogPlugin implements the MariaDB dialog mechanism used for PAM style
// interactive authentication. The server drives the exchange with a
// sequence of prompts; the first password-type question is answered with
// the configured password, everything after that goes through the Prompt
// callback.
//
// https://mariadb.com/kb/en/authentication-plugin-pam/
type dialogPlugin struct {
	basePlugin

	answeredPassword bool
}

func newDialogPlugin(desc Descriptor, cfg *Config, d *Dispatcher) Plugin {
	return &dialogPlugin{basePlugin: basePlugin{
		name:       desc.Name,
		challenge:  desc.Challenge,
		cfg:        cfg,
		dispatcher: d,
	}}
}

func (p *dialogPlugin) Start(out PacketWriter, sess *Session) error {
	// The switch request challenge, when present, is the first prompt.
	if len(p.challenge) > 0 {
		return trace.Wrap(p.answer(protocol.NewCursor(p.challenge), out))
	}
	p.answeredPassword = true
	return trace.Wrap(out.WritePacket(append([]byte(p.cfg.Password), 0x00)))
}

func (p *dialogPlugin) OnPacket(pkt *protocol.Cursor, out PacketWriter, sess *Session) error {
	return trace.Wrap(p.answer(pkt, out))
}

// answer replies to one server prompt.
func (p *dialogPlugin) answer(pkt *protocol.Cursor, out PacketWriter) error {
	kind, err := pkt.ReadByte()
	if err != nil {
		return trace.Wrap(err)
	}
	prompt := string(pkt.ReadRemainingBytes())

	// The low bit only marks the final question of a round; mask it off to
	// get the prompt type.
	echo := kind&^0x01 == dialogPromptEcho
	if kind&^0x01 != dialogPromptNoEcho && !echo {
		return trace.BadParameter("unexpected dialog prompt type %#x", kind)
	}

	if !p.answeredPassword && !echo {
		p.answeredPassword = true
		return trace.Wrap(out.WritePacket(append([]byte(p.cfg.Password), 0x00)))
	}
	if p.cfg.Prompt == nil {
		return trace.BadParameter("server requests interactive input %q and no prompt callback is configured", prompt)
	}
	reply, err := p.cfg.Prompt(prompt, echo)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(out.WritePacket(append([]byte(reply), 0x00)))
}
