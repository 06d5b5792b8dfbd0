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

// Package protocol implements the parts of the MySQL wire protocol needed
// during the connection phase: packet framing, a sequential cursor over a
// single packet payload, and parsing of the generic response packets the
// server may send while a client authenticates.
//
// The following resources are helpful to understand protocol details.
//
// Packet structure:
//
//	https://dev.mysql.com/doc/internals/en/mysql-packet.html
//
// Generic response packets:
//
//	https://dev.mysql.com/doc/internals/en/generic-response-packets.html
//
// Connection phase packets:
//
//	https://dev.mysql.com/doc/internals/en/connection-phase-packets.html
package protocol
