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
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

func TestScrambleSha256(t *testing.T) {
	seed := []byte("12345678901234567890")
	password := []byte("secret")

	token := scrambleSha256(seed, password)
	require.Len(t, token, sha256.Size)

	stage1 := sha256.Sum256(password)
	stage2 := sha256.Sum256(stage1[:])
	h := sha256.New()
	h.Write(stage2[:])
	h.Write(seed)
	serverSide := h.Sum(nil)

	for i := range token {
		require.Equal(t, serverSide[i], token[i]^stage1[i])
	}

	require.Equal(t, token, scrambleSha256(seed, password))
}

// serverPublicKeyPEM generates an RSA key pair and returns the private key
// with the PKIX PEM encoding of its public half, as the server sends it.
func serverPublicKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestCachingSha2FastAuth(t *testing.T) {
	h := newHarness(t, Config{Password: "secret"}, nil)
	challenge := []byte("12345678901234567890")
	require.NoError(t, h.dispatcher.Start(Descriptor{Name: MechanismCachingSha2Password, Challenge: challenge}))

	require.Len(t, h.writer.packets, 1)
	require.Equal(t, scrambleSha256(challenge, []byte("secret")), h.writer.packets[0])

	// Fast auth success: nothing to send, the OK packet concludes.
	require.NoError(t, h.onPacket([]byte{0x01, protocol.CacheSha2FastAuthSuccess}))
	require.Len(t, h.writer.packets, 1)

	require.NoError(t, h.onPacket(okPacket(2)))
	require.Equal(t, 1, h.succeeded)
}

func TestCachingSha2FullAuthOverTLS(t *testing.T) {
	h := newHarness(t, Config{Password: "secret"}, func(sess *Session) {
		sess.Secure = true
	})
	require.NoError(t, h.dispatcher.Start(Descriptor{Name: MechanismCachingSha2Password, Challenge: []byte("12345678901234567890")}))

	require.NoError(t, h.onPacket([]byte{0x01, protocol.CacheSha2FullAuth}))

	// Over a secure transport the password goes out in cleartext.
	require.Len(t, h.writer.packets, 2)
	require.Equal(t, []byte("secret\x00"), h.writer.packets[1])
}

func TestCachingSha2FullAuthPublicKeyRetrieval(t *testing.T) {
	key, keyPEM := serverPublicKeyPEM(t)
	challenge := []byte("12345678901234567890")

	h := newHarness(t, Config{Password: "secret", AllowPublicKeyRetrieval: true}, nil)
	require.NoError(t, h.dispatcher.Start(Descriptor{Name: MechanismCachingSha2Password, Challenge: challenge}))

	require.NoError(t, h.onPacket([]byte{0x01, protocol.CacheSha2FullAuth}))
	require.Len(t, h.writer.packets, 2)
	require.Equal(t, []byte{protocol.CacheSha2RequestPublicKey}, h.writer.packets[1])

	require.NoError(t, h.onPacket(append([]byte{0x01}, keyPEM...)))
	require.Len(t, h.writer.packets, 3)

	// The sealed payload decrypts to the NUL-terminated password XORed
	// with the repeating seed.
	plain, err := rsa.DecryptOAEP(sha1.New(), nil, key, h.writer.packets[2], nil)
	require.NoError(t, err)
	expected := append([]byte("secret"), 0x00)
	for i := range expected {
		expected[i] ^= challenge[i%len(challenge)]
	}
	require.Equal(t, expected, plain)

	require.NoError(t, h.onPacket(okPacket(2)))
	require.Equal(t, 1, h.succeeded)
}

func TestCachingSha2FullAuthRetrievalDisabled(t *testing.T) {
	h := newHarness(t, Config{Password: "secret"}, nil)
	require.NoError(t, h.dispatcher.Start(Descriptor{Name: MechanismCachingSha2Password, Challenge: []byte("12345678901234567890")}))

	require.Error(t, h.onPacket([]byte{0x01, protocol.CacheSha2FullAuth}))
	h.requireFatal(t, CodePublicKeyRetrievalDisabled)
}

func TestCachingSha2FullAuthConfiguredKey(t *testing.T) {
	key, _ := serverPublicKeyPEM(t)
	h := newHarness(t, Config{Password: "secret", ServerPublicKey: &key.PublicKey}, nil)
	require.NoError(t, h.dispatcher.Start(Descriptor{Name: MechanismCachingSha2Password, Challenge: []byte("12345678901234567890")}))

	// With the key configured out-of-band no retrieval request is sent.
	require.NoError(t, h.onPacket([]byte{0x01, protocol.CacheSha2FullAuth}))
	require.Len(t, h.writer.packets, 2)
	require.NotEqual(t, []byte{protocol.CacheSha2RequestPublicKey}, h.writer.packets[1])
}
