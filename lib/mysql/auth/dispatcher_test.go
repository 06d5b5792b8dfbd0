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
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

// fakeWriter records outbound packets.
type fakeWriter struct {
	packets [][]byte
}

func (w *fakeWriter) WritePacket(payload []byte) error {
	w.packets = append(w.packets, slices.Clone(payload))
	return nil
}

// recordingPlugin counts lifecycle events for mechanism switch tests.
type recordingPlugin struct {
	basePlugin
	started   int
	packets   int
	endCalled int
}

func (p *recordingPlugin) Start(out PacketWriter, sess *Session) error {
	p.started++
	return nil
}

func (p *recordingPlugin) OnPacket(pkt *protocol.Cursor, out PacketWriter, sess *Session) error {
	p.packets++
	return nil
}

func (p *recordingPlugin) End() {
	p.endCalled++
}

// registerTestMechanism temporarily adds a mechanism to the registry.
func registerTestMechanism(t *testing.T, name string, build constructor) {
	t.Helper()
	plugins[name] = build
	t.Cleanup(func() { delete(plugins, name) })
}

type harness struct {
	dispatcher *Dispatcher
	writer     *fakeWriter
	sess       *Session

	succeeded int
	failures  []error
}

func newHarness(t *testing.T, cfg Config, mutateSession func(*Session)) *harness {
	t.Helper()
	if cfg.User == "" {
		cfg.User = "alice"
	}
	cfg.Clock = clockwork.NewFakeClock()

	h := &harness{
		writer: &fakeWriter{},
		sess:   NewSession(cfg.Clock),
	}
	h.sess.Capabilities = protocol.ClientProtocol41 | protocol.ClientPluginAuth
	h.sess.Seed = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}
	if mutateSession != nil {
		mutateSession(h.sess)
	}

	dispatcher, err := NewDispatcher(DispatcherConfig{
		Config:    &cfg,
		Session:   h.sess,
		Writer:    h.writer,
		OnSuccess: func(*Session) { h.succeeded++ },
		OnFailure: func(err error) { h.failures = append(h.failures, err) },
	})
	require.NoError(t, err)
	h.dispatcher = dispatcher
	return h
}

func (h *harness) onPacket(payload []byte) error {
	return h.dispatcher.OnPacket(protocol.NewCursor(payload))
}

// requireFatal asserts the handshake was rejected with the given driver
// error code.
func (h *harness) requireFatal(t *testing.T, code uint16) *Error {
	t.Helper()
	require.Len(t, h.failures, 1)
	var authErr *Error
	require.True(t, errors.As(h.failures[0], &authErr), "expected *auth.Error, got %T", h.failures[0])
	require.True(t, authErr.Fatal)
	require.Equal(t, code, authErr.Code)
	require.Zero(t, h.succeeded)
	return authErr
}

func okPacket(status uint16) []byte {
	return []byte{0x00, 0x00, 0x00, byte(status), byte(status >> 8)}
}

func TestDispatcherOKConcludesSuccess(t *testing.T) {
	h := newHarness(t, Config{Password: "secret"}, nil)

	require.NoError(t, h.onPacket(okPacket(2)))

	require.Equal(t, 1, h.succeeded)
	require.Empty(t, h.failures)
	require.True(t, h.sess.Authenticated)
	require.Equal(t, protocol.StatusFlag(2), h.sess.Status)

	// The handshake concluded: nothing further may be dispatched.
	require.Error(t, h.onPacket(okPacket(2)))
	require.Equal(t, 1, h.succeeded)
}

func TestDispatcherServerError(t *testing.T) {
	payload := append([]byte{0xff, 0x15, 0x04, '#'}, []byte("28000Access denied for user 'alice'")...)

	t.Run("without active plugin", func(t *testing.T) {
		h := newHarness(t, Config{}, nil)
		require.Error(t, h.onPacket(payload))
		authErr := h.requireFatal(t, 1045)
		require.Equal(t, "28000", authErr.SQLState)
	})

	t.Run("mid conversation", func(t *testing.T) {
		h := newHarness(t, Config{Password: "secret"}, nil)
		require.NoError(t, h.dispatcher.Start(Descriptor{Name: MechanismNativePassword, Challenge: h.sess.Seed}))
		require.Error(t, h.onPacket(payload))
		authErr := h.requireFatal(t, 1045)
		require.Equal(t, "28000", authErr.SQLState)
	})
}

func TestDispatcherSwitchConstructsPlugin(t *testing.T) {
	h := newHarness(t, Config{Password: "hunter2"}, nil)

	payload := append([]byte{0xfe}, []byte("mysql_clear_password\x00")...)
	payload = append(payload, 0x01, 0x02, 0x03)
	require.NoError(t, h.onPacket(payload))

	plugin, ok := h.dispatcher.plugin.(*clearPasswordPlugin)
	require.True(t, ok, "expected clear password plugin, got %T", h.dispatcher.plugin)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, plugin.challenge)

	// Start ran: the cleartext password went out NUL-terminated.
	require.Len(t, h.writer.packets, 1)
	require.Equal(t, []byte("hunter2\x00"), h.writer.packets[0])
}

func TestDispatcherLegacySwitch(t *testing.T) {
	h := newHarness(t, Config{Password: "hunter2"}, nil)

	// A bare 0xfe switches to the pre-4.1 mechanism with the first 8 seed
	// bytes as the challenge.
	require.NoError(t, h.onPacket([]byte{0xfe}))

	plugin, ok := h.dispatcher.plugin.(*oldPasswordPlugin)
	require.True(t, ok, "expected old password plugin, got %T", h.dispatcher.plugin)
	require.Equal(t, h.sess.Seed[:8], plugin.challenge)
	require.Len(t, h.writer.packets, 1)
	// 8-byte scramble plus terminating NUL.
	require.Len(t, h.writer.packets[0], 9)
}

func TestDispatcherSwitchWithoutPluginAuthCapability(t *testing.T) {
	h := newHarness(t, Config{Password: "hunter2"}, func(sess *Session) {
		sess.Capabilities = protocol.ClientProtocol41
	})

	payload := append([]byte{0xfe}, []byte("mysql_clear_password\x00")...)
	payload = append(payload, 0xaa)
	require.NoError(t, h.onPacket(payload))

	plugin, ok := h.dispatcher.plugin.(*clearPasswordPlugin)
	require.True(t, ok)
	require.Equal(t, []byte{0xaa}, plugin.challenge)
}

func TestDispatcherMechanismNotPermitted(t *testing.T) {
	h := newHarness(t, Config{
		Password:       "hunter2",
		RestrictedAuth: []string{MechanismNativePassword, MechanismEd25519},
	}, nil)

	payload := append([]byte{0xfe}, []byte("mysql_clear_password\x00")...)
	require.Error(t, h.onPacket(payload))

	authErr := h.requireFatal(t, CodeMechanismNotPermitted)
	require.Contains(t, authErr.Message, "mysql_clear_password")
	// Rejected before construction: no plugin exists and nothing was sent.
	require.Nil(t, h.dispatcher.plugin)
	require.Empty(t, h.writer.packets)
}

func TestDispatcherUnsupportedMechanism(t *testing.T) {
	h := newHarness(t, Config{Password: "hunter2"}, nil)

	payload := append([]byte{0xfe}, []byte("auth_gssapi_client\x00")...)
	require.Error(t, h.onPacket(payload))

	authErr := h.requireFatal(t, CodeUnsupportedMechanism)
	require.Contains(t, authErr.Message, "auth_gssapi_client")
	require.Nil(t, h.dispatcher.plugin)
	require.Empty(t, h.writer.packets)
}

func TestDispatcherUnexpectedPacket(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	require.Error(t, h.onPacket([]byte{0x05, 0xde, 0xad}))

	authErr := h.requireFatal(t, CodeUnexpectedPacket)
	require.Contains(t, authErr.Message, "0x5")
}

func TestDispatcherSwitchRetiresPreviousPlugin(t *testing.T) {
	var plugin *recordingPlugin
	registerTestMechanism(t, "test_recording", func(desc Descriptor, cfg *Config, d *Dispatcher) Plugin {
		plugin = &recordingPlugin{basePlugin: basePlugin{
			name:       desc.Name,
			challenge:  desc.Challenge,
			cfg:        cfg,
			dispatcher: d,
		}}
		return plugin
	})

	h := newHarness(t, Config{Password: "hunter2"}, nil)
	require.NoError(t, h.dispatcher.Start(Descriptor{Name: "test_recording"}))
	require.Equal(t, 1, plugin.started)

	// The plugin is mid-conversation and receives sub-protocol packets.
	require.NoError(t, h.onPacket([]byte{0x01, 0x42}))
	require.Equal(t, 1, plugin.packets)

	retired := plugin
	payload := append([]byte{0xfe}, []byte("mysql_clear_password\x00")...)
	require.NoError(t, h.onPacket(payload))

	// End fired exactly once and the retired plugin never sees another
	// packet, even for markers routed to the active conversation.
	require.Equal(t, 1, retired.endCalled)
	require.IsType(t, &clearPasswordPlugin{}, h.dispatcher.plugin)
	require.Error(t, h.onPacket([]byte{0x01, 0x42}))
	require.Equal(t, 1, retired.packets)
	require.Equal(t, 1, retired.endCalled)
}

// selfSignedOKPacket builds an OK packet carrying a certificate validation
// hash on its tail.
func selfSignedOKPacket(serverHash []byte) []byte {
	payload := okPacket(2)
	payload = append(payload, 0x00, 0x00) // warnings
	return protocol.AppendLengthEncodedBuffer(payload, serverHash)
}

func TestDispatcherSelfSignedValidation(t *testing.T) {
	const password = "hunter2"
	const fingerprint = "ab12cd34"

	// The expected digest binds the native mechanism's credential hash,
	// the session seed and the certificate fingerprint.
	seed := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}
	stage1 := sha1.Sum([]byte(password))
	credentialHash := sha1.Sum(stage1[:])
	digest := sha256.New()
	digest.Write(credentialHash[:])
	digest.Write(seed)
	digest.Write([]byte(fingerprint))
	validHash := append([]byte{0x01}, []byte(hex.EncodeToString(digest.Sum(nil)))...)

	selfSigned := func(sess *Session) {
		sess.SelfSignedCert = true
		sess.RequireValidCert = true
		sess.CertFingerprint = fingerprint
	}

	start := func(t *testing.T, h *harness) {
		require.NoError(t, h.dispatcher.Start(Descriptor{Name: MechanismNativePassword, Challenge: h.sess.Seed}))
	}

	t.Run("digest match succeeds", func(t *testing.T) {
		h := newHarness(t, Config{Password: password}, selfSigned)
		start(t, h)
		require.NoError(t, h.onPacket(selfSignedOKPacket(validHash)))
		require.Equal(t, 1, h.succeeded)
		require.Empty(t, h.failures)
	})

	t.Run("digest mismatch fails", func(t *testing.T) {
		h := newHarness(t, Config{Password: password}, selfSigned)
		start(t, h)
		wrong := slices.Clone(validHash)
		wrong[1] ^= 0xff
		require.Error(t, h.onPacket(selfSignedOKPacket(wrong)))
		h.requireFatal(t, CodeSelfSignedValidationFailed)
	})

	t.Run("unknown hash scheme tag fails", func(t *testing.T) {
		h := newHarness(t, Config{Password: password}, selfSigned)
		start(t, h)
		tagged := slices.Clone(validHash)
		tagged[0] = 0x02
		require.Error(t, h.onPacket(selfSignedOKPacket(tagged)))
		authErr := h.requireFatal(t, CodeSelfSignedValidationFailed)
		require.Contains(t, authErr.Message, "0x2")
	})

	t.Run("no password fails with dedicated error", func(t *testing.T) {
		h := newHarness(t, Config{Password: ""}, selfSigned)
		start(t, h)
		require.Error(t, h.onPacket(selfSignedOKPacket(validHash)))
		h.requireFatal(t, CodeSelfSignedNoSecret)
	})

	t.Run("mechanism without hash capability fails", func(t *testing.T) {
		h := newHarness(t, Config{Password: password}, selfSigned)
		require.NoError(t, h.dispatcher.Start(Descriptor{Name: MechanismClearPassword}))
		h.writer.packets = nil
		require.Error(t, h.onPacket(selfSignedOKPacket(validHash)))
		h.requireFatal(t, CodeSelfSignedNoSecret)
	})

	t.Run("empty validation hash skips validation", func(t *testing.T) {
		h := newHarness(t, Config{Password: password}, selfSigned)
		start(t, h)
		payload := append(okPacket(2), 0x00, 0x00)
		require.NoError(t, h.onPacket(payload))
		require.Equal(t, 1, h.succeeded)
	})
}

func TestDispatcherPluginCompletionCallbacks(t *testing.T) {
	registerTestMechanism(t, "test_self_completing", func(desc Descriptor, cfg *Config, d *Dispatcher) Plugin {
		return &recordingPlugin{basePlugin: basePlugin{
			name:       desc.Name,
			cfg:        cfg,
			dispatcher: d,
		}}
	})

	t.Run("succeed", func(t *testing.T) {
		h := newHarness(t, Config{}, nil)
		require.NoError(t, h.dispatcher.Start(Descriptor{Name: "test_self_completing"}))
		h.dispatcher.Succeed()
		require.Equal(t, 1, h.succeeded)
		// Idempotent after conclusion.
		h.dispatcher.Succeed()
		require.Equal(t, 1, h.succeeded)
	})

	t.Run("fail", func(t *testing.T) {
		h := newHarness(t, Config{}, nil)
		require.NoError(t, h.dispatcher.Start(Descriptor{Name: "test_self_completing"}))
		h.dispatcher.Fail(unexpectedPacketError(0x42))
		h.requireFatal(t, CodeUnexpectedPacket)
		// Later errors are dropped, not double-reported.
		h.dispatcher.Fail(unexpectedPacketError(0x43))
		require.Len(t, h.failures, 1)
	})
}
