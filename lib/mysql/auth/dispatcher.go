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
	"log/slog"
	"slices"

	"github.com/gravitational/trace"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

// DispatcherConfig is the configuration of a handshake dispatcher.
type DispatcherConfig struct {
	// Config is the client configuration.
	Config *Config
	// Session is the authentication session the dispatcher drives.
	Session *Session
	// Writer sends outbound packets to the server.
	Writer PacketWriter
	// OnSuccess is invoked exactly once when the server accepts the
	// credentials, resuming the command pipeline.
	OnSuccess func(*Session)
	// OnFailure is invoked exactly once with the fatal error that
	// terminated the handshake.
	OnFailure func(error)
}

// CheckAndSetDefaults validates the dispatcher configuration.
func (c *DispatcherConfig) CheckAndSetDefaults() error {
	if c.Config == nil {
		return trace.BadParameter("missing Config")
	}
	if err := c.Config.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if c.Session == nil {
		return trace.BadParameter("missing Session")
	}
	if c.Writer == nil {
		return trace.BadParameter("missing Writer")
	}
	if c.OnSuccess == nil {
		c.OnSuccess = func(*Session) {}
	}
	if c.OnFailure == nil {
		c.OnFailure = func(error) {}
	}
	return nil
}

// Dispatcher is the authentication handshake state machine. It receives
// every inbound packet during the authentication phase, classifies it by its
// leading marker byte and either handles it itself, forwards it to the
// active mechanism plugin, or performs a mechanism switch.
//
// OnPacket is never invoked concurrently for the same session: packets are
// delivered strictly in arrival order and processed to completion before the
// next is admitted.
type Dispatcher struct {
	cfg  *Config
	sess *Session
	out  PacketWriter
	log  *slog.Logger

	onSuccess func(*Session)
	onFailure func(error)

	// plugin is the currently attached mechanism plugin. routing reports
	// whether packets may still be forwarded to it; a detached plugin keeps
	// its reference only so the success path can consult its hash
	// capability.
	plugin  Plugin
	routing bool
	done    bool
}

// NewDispatcher returns a dispatcher for one authentication conversation.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Dispatcher{
		cfg:       cfg.Config,
		sess:      cfg.Session,
		out:       cfg.Writer,
		log:       cfg.Config.Logger.With("session", cfg.Session.ID),
		onSuccess: cfg.OnSuccess,
		onFailure: cfg.OnFailure,
	}, nil
}

// Start attaches the initial mechanism plugin and begins its conversation.
// The initial mechanism is negotiated in the server greeting before the
// dispatcher takes over, so it goes through the same permission and registry
// checks as a mid-handshake switch.
func (d *Dispatcher) Start(desc Descriptor) error {
	return trace.Wrap(d.switchMechanism(desc))
}

// OnPacket classifies one inbound packet by its leading marker byte and
// routes it. It must not be called after the handshake concluded.
func (d *Dispatcher) OnPacket(pkt *protocol.Cursor) error {
	if d.done {
		return trace.BadParameter("no packets may be dispatched after the handshake concluded")
	}
	marker, err := pkt.Peek()
	if err != nil {
		return trace.Wrap(d.fatal(err))
	}
	switch marker {
	case protocol.ErrHeader:
		return trace.Wrap(d.onError(pkt))
	case protocol.EOFHeader:
		return trace.Wrap(d.onSwitchRequest(pkt))
	case protocol.OKHeader:
		return trace.Wrap(d.onOK(pkt))
	default:
		// Anything else belongs to the active mechanism's own sub-protocol
		// (e.g. AuthMoreData rounds). Without an active conversation it is
		// a protocol violation.
		if d.routing && d.plugin != nil {
			return trace.Wrap(d.forward(pkt))
		}
		return trace.Wrap(d.fatal(unexpectedPacketError(marker)))
	}
}

// forward routes a packet to the active plugin. Plugin errors are fatal.
func (d *Dispatcher) forward(pkt *protocol.Cursor) error {
	if err := d.plugin.OnPacket(pkt, d.out, d.sess); err != nil {
		d.routing = false
		d.plugin.Fail(err, d.sess)
		return trace.Wrap(err)
	}
	return nil
}

// onError handles an ERR_Packet. Any server error during authentication is
// fatal: the plugin is made inert before the error is propagated so no
// further packet can reach it.
func (d *Dispatcher) onError(pkt *protocol.Cursor) error {
	d.routing = false
	if err := pkt.Skip(1); err != nil {
		return trace.Wrap(d.fatal(err))
	}
	srvErr, err := pkt.ReadError("authentication failed")
	if err != nil {
		return trace.Wrap(d.fatal(err))
	}
	authErr := serverError(srvErr)
	d.log.Debug("Server rejected authentication.",
		"code", authErr.Code, "sqlstate", authErr.SQLState)
	if d.plugin != nil {
		// The plugin may wrap the error with mechanism specific context
		// before final propagation.
		d.plugin.Fail(authErr, d.sess)
		return trace.Wrap(authErr)
	}
	return trace.Wrap(d.fatal(authErr))
}

// onSwitchRequest handles an AuthSwitchRequest packet: it parses the
// requested mechanism, retires the current plugin and hands the conversation
// to a freshly constructed one.
//
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_connection_phase_packets_protocol_auth_switch_request.html
func (d *Dispatcher) onSwitchRequest(pkt *protocol.Cursor) error {
	desc, err := d.parseSwitchRequest(pkt)
	if err != nil {
		return trace.Wrap(d.fatal(err))
	}
	d.log.Debug("Server requested authentication mechanism switch.",
		"mechanism", desc.Name, "challenge_len", len(desc.Challenge))
	return trace.Wrap(d.switchMechanism(desc))
}

func (d *Dispatcher) parseSwitchRequest(pkt *protocol.Cursor) (Descriptor, error) {
	if err := pkt.Skip(1); err != nil {
		return Descriptor{}, trace.Wrap(err)
	}
	if d.sess.Capabilities.Has(protocol.ClientPluginAuth) {
		if pkt.Remaining() == 0 {
			// Legacy variant: a bare 0xfe asks for the pre-4.1 scramble
			// computed over the first 8 bytes of the original seed.
			seed := d.sess.Seed
			if len(seed) > 8 {
				seed = seed[:8]
			}
			return Descriptor{Name: MechanismOldPassword, Challenge: seed}, nil
		}
		name, err := pkt.ReadStringNullEnded()
		if err != nil {
			return Descriptor{}, trace.Wrap(err)
		}
		return Descriptor{Name: name, Challenge: pkt.ReadRemainingBytes()}, nil
	}
	// Without plugin-auth capability the name is a plain ASCII
	// NUL-terminated string.
	name, err := pkt.ReadStringNullEnded()
	if err != nil {
		return Descriptor{}, trace.Wrap(err)
	}
	return Descriptor{Name: name, Challenge: pkt.ReadRemainingBytes()}, nil
}

// switchMechanism retires the current plugin and attaches a new one built
// from the descriptor. Permission and registry checks happen before any
// plugin state is created, so a rejected switch leaves no partial state.
func (d *Dispatcher) switchMechanism(desc Descriptor) error {
	if len(d.cfg.RestrictedAuth) > 0 && !slices.Contains(d.cfg.RestrictedAuth, desc.Name) {
		return trace.Wrap(d.fatal(mechanismNotPermittedError(desc.Name, d.cfg.RestrictedAuth)))
	}
	if d.plugin != nil {
		d.plugin.End()
		d.plugin = nil
		d.routing = false
	}
	build, ok := plugins[desc.Name]
	if !ok {
		return trace.Wrap(d.fatal(unsupportedMechanismError(desc.Name)))
	}
	plugin := build(desc, d.cfg, d)
	d.plugin = plugin
	d.routing = true
	if err := plugin.Start(d.out, d.sess); err != nil {
		d.routing = false
		plugin.Fail(err, d.sess)
		return trace.Wrap(err)
	}
	return nil
}

// onOK handles the OK_Packet that concludes a successful exchange. When the
// TLS session trusted a self-signed certificate under a policy that requires
// validation, the server-supplied validation hash is checked against a
// digest derived from the credential hash, the seed and the certificate
// fingerprint before success is declared.
//
// https://dev.mysql.com/doc/internals/en/packet-OK_Packet.html
func (d *Dispatcher) onOK(pkt *protocol.Cursor) error {
	// No further packets are plugin-routed, but keep the plugin reference:
	// the validation path below needs its hash capability.
	prev := d.plugin
	d.routing = false

	if err := pkt.Skip(1); err != nil {
		return trace.Wrap(d.fatal(err))
	}
	// Affected rows and last insert id are present but meaningless during
	// the connection phase.
	if err := pkt.SkipLengthEncodedNumber(); err != nil {
		return trace.Wrap(d.fatal(err))
	}
	if err := pkt.SkipLengthEncodedNumber(); err != nil {
		return trace.Wrap(d.fatal(err))
	}
	status, err := pkt.ReadUint16()
	if err != nil {
		return trace.Wrap(d.fatal(err))
	}
	d.sess.Status = protocol.StatusFlag(status)

	if d.sess.SelfSignedCert && d.sess.RequireValidCert {
		if err := d.validateCertFingerprint(pkt, prev); err != nil {
			return trace.Wrap(d.fatal(err))
		}
	}
	d.succeed()
	return nil
}

// validateCertFingerprint runs the self-signed certificate validation
// exchange on the tail of an OK_Packet.
func (d *Dispatcher) validateCertFingerprint(pkt *protocol.Cursor, plugin Plugin) error {
	if err := pkt.Skip(2); err != nil { // warning count
		return trace.Wrap(err)
	}
	var serverHash []byte
	if pkt.Remaining() > 0 {
		var err error
		serverHash, err = pkt.ReadLengthEncodedBuffer()
		if err != nil {
			return trace.Wrap(err)
		}
	}
	if len(serverHash) == 0 {
		return nil
	}
	hasher, ok := plugin.(CredentialHasher)
	if !ok || d.cfg.Password == "" {
		return trace.Wrap(selfSignedNoSecretError())
	}
	credentialHash, err := hasher.CredentialHash(d.cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	match, err := VerifyCertFingerprint(serverHash, credentialHash, d.sess.Seed, []byte(d.sess.CertFingerprint))
	if err != nil {
		return trace.Wrap(selfSignedValidationError(err.Error()))
	}
	if !match {
		return trace.Wrap(selfSignedValidationError("verification digest mismatch"))
	}
	d.log.Debug("Self-signed certificate fingerprint validated.")
	return nil
}

// succeed concludes the handshake and resumes the session's command
// pipeline. It fires at most once.
func (d *Dispatcher) succeed() {
	d.done = true
	d.plugin = nil
	d.sess.Authenticated = true
	d.log.Debug("Authentication handshake completed.",
		"elapsed", d.cfg.Clock.Since(d.sess.startedAt))
	d.onSuccess(d.sess)
}

// fail rejects the handshake with a fatal error. It fires at most once; a
// later call logs and drops the extra error.
func (d *Dispatcher) fail(err error) {
	if d.done {
		d.log.Warn("Dropping error received after handshake conclusion.", "error", err)
		return
	}
	d.done = true
	d.routing = false
	d.log.Debug("Authentication handshake failed.", "error", err)
	d.onFailure(err)
}

// fatal rejects the handshake and returns the error for propagation to the
// packet loop.
func (d *Dispatcher) fatal(err error) error {
	d.fail(err)
	return err
}

// Succeed lets an active plugin conclude the handshake from inside its own
// sub-protocol instead of waiting for the terminal OK_Packet.
func (d *Dispatcher) Succeed() {
	if d.done {
		return
	}
	d.routing = false
	d.succeed()
}

// Fail lets an active plugin reject the handshake with a fatal error from
// inside its own sub-protocol.
func (d *Dispatcher) Fail(err error) {
	d.fail(err)
}
