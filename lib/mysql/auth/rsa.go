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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"

	"github.com/gravitational/trace"
)

// parseServerPublicKey parses the PEM-encoded RSA public key the server
// sends in response to a public key retrieval request.
func parseServerPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, trace.BadParameter("server sent malformed RSA public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, trace.Wrap(err, "failed to parse server RSA public key")
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, trace.BadParameter("server public key is %T, expected RSA", key)
	}
	return rsaKey, nil
}

// encryptPassword seals the NUL-terminated password for transmission over
// an insecure transport: the password is XORed with the repeating seed and
// encrypted with RSA OAEP.
func encryptPassword(key *rsa.PublicKey, seed []byte, password string) ([]byte, error) {
	plain := make([]byte, len(password)+1)
	copy(plain, password)
	for i := range plain {
		plain[i] ^= seed[i%len(seed)]
	}
	sealed, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, key, plain, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return sealed, nil
}
