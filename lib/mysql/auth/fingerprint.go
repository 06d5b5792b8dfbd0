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
	"encoding/hex"
	"strings"

	"github.com/gravitational/trace"
)

// fingerprintHashSHA256 tags a validation hash computed with SHA-256. It is
// the only scheme the server currently emits.
const fingerprintHashSHA256 byte = 0x01

// VerifyCertFingerprint checks the server-supplied certificate validation
// hash against a digest derived from the mechanism credential hash, the
// server seed and the peer certificate fingerprint:
//
//	digest = sha256(credentialHash || seed || certFingerprint)
//
// serverHash carries a leading scheme tag byte followed by the hex encoding
// of the expected digest; the comparison is case-insensitive. The function
// is pure: identical inputs always yield identical results.
//
// An empty serverHash or an unknown scheme tag is reported as an error
// rather than asserted, so a misbehaving server surfaces as a fatal
// validation failure instead of a crash.
func VerifyCertFingerprint(serverHash, credentialHash, seed, certFingerprint []byte) (bool, error) {
	if len(serverHash) == 0 {
		return false, trace.BadParameter("empty validation hash")
	}
	if serverHash[0] != fingerprintHashSHA256 {
		return false, trace.BadParameter("unknown validation hash type %#x", serverHash[0])
	}
	h := sha256.New()
	h.Write(credentialHash)
	h.Write(seed)
	h.Write(certFingerprint)
	digest := hex.EncodeToString(h.Sum(nil))
	return strings.EqualFold(digest, string(serverHash[1:])), nil
}
