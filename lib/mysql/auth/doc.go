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

// Package auth implements the client side of the MySQL/MariaDB
// authentication handshake: the dispatcher that classifies inbound packets
// during the connection phase, the mechanism plugins that drive each
// credential verification sub-protocol, and the post-success validation of
// self-signed certificate fingerprints.
//
// The transport feeds every inbound packet to Dispatcher.OnPacket, which
// classifies it by its leading marker byte. An AuthSwitchRequest retires
// the active mechanism plugin and constructs the one the server asked for
// from a static registry; an ERR packet terminates the handshake fatally;
// an OK packet concludes it, optionally after validating the certificate
// fingerprint digest. Any other packet belongs to the active mechanism's
// own multi-round sub-protocol and is forwarded to it.
//
// All errors of this package are fatal to the connection attempt: nothing
// is retried here. Retry policy belongs to the caller owning connection
// establishment.
package auth
