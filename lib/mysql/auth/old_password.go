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

// oldPasswordPlugin implements mysql_old_password, the pre-4.1 scramble.
// It is only ever reached through the legacy AuthSwitchRequest form, where
// the challenge is the first 8 bytes of the original seed.
//
// https://dev.mysql.com/doc/internals/en/old-password-authentication.html
type oldPasswordPlugin struct {
	basePlugin
}

func newOldPasswordPlugin(desc Descriptor, cfg *Config, d *Dispatcher) Plugin {
	return &oldPasswordPlugin{basePlugin{
		name:       desc.Name,
		challenge:  desc.Challenge,
		cfg:        cfg,
		dispatcher: d,
	}}
}

func (p *oldPasswordPlugin) Start(out PacketWriter, sess *Session) error {
	if p.cfg.Password == "" {
		return trace.Wrap(out.WritePacket(nil))
	}
	seed := scrambleSeed(p.challenge)
	if len(seed) > 8 {
		seed = seed[:8]
	}
	token := append(scramble323(seed, []byte(p.cfg.Password)), 0x00)
	return trace.Wrap(out.WritePacket(token))
}

func (p *oldPasswordPlugin) OnPacket(pkt *protocol.Cursor, out PacketWriter, sess *Session) error {
	marker, err := pkt.Peek()
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(unexpectedPacketError(marker))
}

// hash323 is the pre-4.1 password hash.
func hash323(password []byte) (uint32, uint32) {
	var nr, add, nr2 uint32 = 1345345333, 7, 0x12345671
	for _, c := range password {
		// Spaces and tabs in passwords were historically skipped.
		if c == ' ' || c == '\t' {
			continue
		}
		tmp := uint32(c)
		nr ^= (((nr & 63) + add) * tmp) + (nr << 8)
		nr2 += (nr2 << 8) ^ nr
		add += tmp
	}
	return nr & ((1 << 31) - 1), nr2 & ((1 << 31) - 1)
}

// scramble323 computes the pre-4.1 scramble of the password over the seed.
func scramble323(seed, password []byte) []byte {
	if len(password) == 0 {
		return nil
	}
	pw1, pw2 := hash323(password)
	sd1, sd2 := hash323(seed)

	const mask = uint32(0x3FFFFFFF)
	seed1 := (pw1 ^ sd1) % mask
	seed2 := (pw2 ^ sd2) % mask

	out := make([]byte, len(seed))
	for i := range out {
		seed1 = (seed1*3 + seed2) % mask
		seed2 = (seed1 + seed2 + 33) % mask
		out[i] = byte(float64(seed1)/float64(mask)*31) + 64
	}
	seed1 = (seed1*3 + seed2) % mask
	extra := byte(float64(seed1) / float64(mask) * 31)
	for i := range out {
		out[i] ^= extra
	}
	return out
}
