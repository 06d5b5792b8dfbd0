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
	"crypto/sha512"

	"filippo.io/edwards25519"
	"github.com/gravitational/trace"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

// ed25519Plugin implements the MariaDB client_ed25519 mechanism: the client
// proves knowledge of the password by signing the server challenge with a
// secret scalar derived from SHA512(password).
//
// The derivation deviates from RFC 8032 in that the password digest is used
// directly as the expanded secret, not as a seed, so crypto/ed25519 cannot
// sign for it; the signature is assembled from edwards25519 scalar and
// point arithmetic instead.
//
// https://mariadb.com/kb/en/authentication-plugin-ed25519/
type ed25519Plugin struct {
	basePlugin
}

func newEd25519Plugin(desc Descriptor, cfg *Config, d *Dispatcher) Plugin {
	return &ed25519Plugin{basePlugin{
		name:       desc.Name,
		challenge:  desc.Challenge,
		cfg:        cfg,
		dispatcher: d,
	}}
}

func (p *ed25519Plugin) Start(out PacketWriter, sess *Session) error {
	sig, err := signEd25519Challenge([]byte(p.cfg.Password), p.challenge)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(out.WritePacket(sig))
}

func (p *ed25519Plugin) OnPacket(pkt *protocol.Cursor, out PacketWriter, sess *Session) error {
	marker, err := pkt.Peek()
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(unexpectedPacketError(marker))
}

// signEd25519Challenge produces the 64-byte (R || S) signature of the
// server challenge under the password-derived secret scalar.
func signEd25519Challenge(password, challenge []byte) ([]byte, error) {
	expanded := sha512.Sum512(password)

	secret, err := edwards25519.NewScalar().SetBytesWithClamping(expanded[:32])
	if err != nil {
		return nil, trace.Wrap(err)
	}
	public := (&edwards25519.Point{}).ScalarBaseMult(secret)

	// Nonce commits to the second half of the expanded secret and the
	// challenge, per the usual Ed25519 construction.
	nh := sha512.New()
	nh.Write(expanded[32:])
	nh.Write(challenge)
	nonce, err := edwards25519.NewScalar().SetUniformBytes(nh.Sum(nil))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	commitment := (&edwards25519.Point{}).ScalarBaseMult(nonce)

	ch := sha512.New()
	ch.Write(commitment.Bytes())
	ch.Write(public.Bytes())
	ch.Write(challenge)
	k, err := edwards25519.NewScalar().SetUniformBytes(ch.Sum(nil))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	s := edwards25519.NewScalar().MultiplyAdd(k, secret, nonce)

	sig := make([]byte, 0, 64)
	sig = append(sig, commitment.Bytes()...)
	sig = append(sig, s.Bytes()...)
	return sig, nil
}
