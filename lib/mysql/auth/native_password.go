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
	"bytes"
	"crypto/sha1"

	"github.com/gravitational/trace"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

// nativePasswordPlugin implements mysql_native_password, the 4.1 SHA1
// challenge-response scramble.
//
// https://dev.mysql.com/doc/internals/en/secure-password-authentication.html
type nativePasswordPlugin struct {
	basePlugin
}

func newNativePasswordPlugin(desc Descriptor, cfg *Config, d *Dispatcher) Plugin {
	return &nativePasswordPlugin{basePlugin{
		name:       desc.Name,
		challenge:  desc.Challenge,
		cfg:        cfg,
		dispatcher: d,
	}}
}

func (p *nativePasswordPlugin) Start(out PacketWriter, sess *Session) error {
	if p.cfg.Password == "" {
		// Empty scramble response signals an empty password.
		return trace.Wrap(out.WritePacket(nil))
	}
	token := scrambleSha1(scrambleSeed(p.challenge), []byte(p.cfg.Password))
	return trace.Wrap(out.WritePacket(token))
}

func (p *nativePasswordPlugin) OnPacket(pkt *protocol.Cursor, out PacketWriter, sess *Session) error {
	marker, err := pkt.Peek()
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(unexpectedPacketError(marker))
}

// CredentialHash returns SHA1(SHA1(password)), the stored credential form
// this mechanism verifies against, as required for certificate fingerprint
// validation.
func (p *nativePasswordPlugin) CredentialHash(cfg *Config) ([]byte, error) {
	stage1 := sha1.Sum([]byte(cfg.Password))
	stage2 := sha1.Sum(stage1[:])
	return stage2[:], nil
}

// scrambleSeed normalizes a switch request challenge into the scramble
// seed: servers send a trailing NUL after the 20 random bytes.
func scrambleSeed(challenge []byte) []byte {
	return bytes.TrimRight(challenge, "\x00")
}

// scrambleSha1 computes SHA1(password) XOR SHA1(seed || SHA1(SHA1(password))).
func scrambleSha1(seed, password []byte) []byte {
	stage1 := sha1.Sum(password)
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(seed)
	h.Write(stage2[:])
	token := h.Sum(nil)

	for i := range token {
		token[i] ^= stage1[i]
	}
	return token
}
