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
	"slices"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

// Mechanism names the server may request.
const (
	// MechanismNativePassword is the SHA1 challenge-response mechanism.
	MechanismNativePassword = "mysql_native_password"
	// MechanismClearPassword sends the password in cleartext.
	MechanismClearPassword = "mysql_clear_password"
	// MechanismOldPassword is the pre-4.1 scramble, only ever reached via
	// the legacy AuthSwitchRequest form.
	MechanismOldPassword = "mysql_old_password"
	// MechanismCachingSha2Password is the SHA256 challenge-response
	// mechanism with server-side credential caching.
	MechanismCachingSha2Password = "caching_sha2_password"
	// MechanismSha256Password is the SHA256 mechanism without caching.
	MechanismSha256Password = "sha256_password"
	// MechanismEd25519 is the MariaDB Ed25519 signature mechanism.
	MechanismEd25519 = "client_ed25519"
	// MechanismDialog is the interactive multi-step (PAM) mechanism.
	MechanismDialog = "dialog"
)

// Descriptor describes the mechanism the server switched to: its name and
// the opaque challenge bytes that seed the conversation. It is produced by
// parsing an AuthSwitchRequest packet and consumed once to construct the
// matching plugin.
type Descriptor struct {
	// Name is the mechanism name as sent by the server.
	Name string
	// Challenge is the opaque challenge payload of the switch request.
	Challenge []byte
}

// Plugin drives the sub-protocol conversation of one authentication
// mechanism. Exactly one plugin is active at a time; the dispatcher owns it
// and routes packets to it until the plugin reports completion or the server
// terminates the exchange. A plugin must not assume it is the first
// mechanism of the session: it may be constructed after any number of
// mechanism switches.
type Plugin interface {
	// Start emits the first outbound packet(s) of the mechanism's
	// sub-protocol using the challenge supplied at construction.
	Start(out PacketWriter, sess *Session) error
	// OnPacket consumes one inbound packet belonging to the mechanism's own
	// sub-protocol. Multi-round mechanisms may emit further packets in
	// response.
	OnPacket(pkt *protocol.Cursor, out PacketWriter, sess *Session) error
	// Fail is the final sink for a fatal error associated with this
	// plugin's conversation. Implementations may annotate the error before
	// propagating it to the dispatcher's rejection path.
	Fail(err error, sess *Session)
	// End is called when the dispatcher detaches the plugin on a mechanism
	// switch, releasing any held resources. The plugin receives no packets
	// afterwards.
	End()
}

// CredentialHasher is the optional capability of producing a deterministic
// credential digest usable for certificate fingerprint validation. Plugins
// that cannot produce one simply do not implement the interface.
type CredentialHasher interface {
	// CredentialHash returns the mechanism's credential digest.
	CredentialHash(cfg *Config) ([]byte, error)
}

// constructor builds a plugin for the parsed mechanism descriptor. The
// dispatcher reference lets the plugin hand control back on its own
// completion; it is borrowed, never owned.
type constructor func(desc Descriptor, cfg *Config, d *Dispatcher) Plugin

// plugins is the process-wide mechanism registry. It is populated once at
// init time and read-only thereafter.
var plugins = map[string]constructor{
	MechanismNativePassword:      newNativePasswordPlugin,
	MechanismClearPassword:       newClearPasswordPlugin,
	MechanismOldPassword:         newOldPasswordPlugin,
	MechanismCachingSha2Password: newCachingSha2Plugin,
	MechanismSha256Password:      newSha256PasswordPlugin,
	MechanismEd25519:             newEd25519Plugin,
	MechanismDialog:              newDialogPlugin,
}

// SupportedMechanisms returns the sorted names of all registered mechanisms.
func SupportedMechanisms() []string {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// basePlugin carries the state common to all mechanism plugins.
type basePlugin struct {
	name       string
	challenge  []byte
	cfg        *Config
	dispatcher *Dispatcher
}

func (p *basePlugin) End() {}

// Fail propagates the fatal error to the dispatcher's rejection path
// unchanged. Mechanisms that can add diagnosis context override this.
func (p *basePlugin) Fail(err error, sess *Session) {
	p.dispatcher.fail(err)
}
