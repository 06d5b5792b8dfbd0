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
	"errors"
	"fmt"
	"strings"

	"github.com/gravitational/mysqlauth/lib/mysql/protocol"
)

// Driver error codes emitted by the handshake layer. These live in the
// client error range so they can never collide with server error codes.
const (
	// CodeUnsupportedMechanism indicates the server requested an
	// authentication mechanism this client has no implementation for.
	CodeUnsupportedMechanism uint16 = 45040
	// CodeMechanismNotPermitted indicates the requested mechanism is not in
	// the configured allow-list.
	CodeMechanismNotPermitted uint16 = 45041
	// CodeSelfSignedNoSecret indicates a self-signed certificate cannot be
	// validated because no usable credential secret is available.
	CodeSelfSignedNoSecret uint16 = 45042
	// CodeSelfSignedValidationFailed indicates the certificate validation
	// digest did not match the server-supplied hash.
	CodeSelfSignedValidationFailed uint16 = 45043
	// CodeUnexpectedPacket indicates a packet that does not belong to the
	// handshake was received during the authentication phase.
	CodeUnexpectedPacket uint16 = 45044
	// CodePublicKeyRetrievalDisabled indicates the mechanism required the
	// server RSA public key over an insecure transport and retrieval is not
	// allowed by configuration.
	CodePublicKeyRetrievalDisabled uint16 = 45045
)

// SQLSTATE values used by the handshake layer.
const (
	// sqlStateCommLink is the class for protocol level failures.
	sqlStateCommLink = "08S01"
	// sqlStateAccessDenied is the class for authorization failures.
	sqlStateAccessDenied = "28000"
)

// Error is the error record produced by the handshake layer. A fatal error
// terminates the handshake and the connection attempt; it must never be
// retried by this layer.
type Error struct {
	// Message is the human readable error message.
	Message string
	// Code is the driver or server error code.
	Code uint16
	// SQLState is the standard SQLSTATE class of the error.
	SQLState string
	// Fatal indicates the session must not continue.
	Fatal bool
}

// Error returns the formatted error message.
func (e *Error) Error() string {
	return fmt.Sprintf("(%v) (%v): %v", e.Code, e.SQLState, e.Message)
}

// IsFatalError reports whether err carries a fatal handshake error record.
func IsFatalError(err error) bool {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Fatal
	}
	return false
}

func unsupportedMechanismError(name string) *Error {
	return &Error{
		Message:  fmt.Sprintf("client does not support authentication protocol %q requested by server", name),
		Code:     CodeUnsupportedMechanism,
		SQLState: sqlStateAccessDenied,
		Fatal:    true,
	}
}

func mechanismNotPermittedError(name string, permitted []string) *Error {
	return &Error{
		Message: fmt.Sprintf("unsupported authentication plugin %q, permitted plugins: %v",
			name, strings.Join(permitted, ", ")),
		Code:     CodeMechanismNotPermitted,
		SQLState: sqlStateAccessDenied,
		Fatal:    true,
	}
}

func selfSignedNoSecretError() *Error {
	return &Error{
		Message: "self-signed certificate cannot be verified without a password: " +
			"either permit self-signed certificates explicitly or provide a certificate the client can validate",
		Code:     CodeSelfSignedNoSecret,
		SQLState: sqlStateAccessDenied,
		Fatal:    true,
	}
}

func selfSignedValidationError(reason string) *Error {
	msg := "self-signed certificate validation failed"
	if reason != "" {
		msg += ": " + reason
	}
	return &Error{
		Message:  msg,
		Code:     CodeSelfSignedValidationFailed,
		SQLState: sqlStateAccessDenied,
		Fatal:    true,
	}
}

func unexpectedPacketError(marker byte) *Error {
	return &Error{
		Message:  fmt.Sprintf("unexpected packet type %#x during handshake", marker),
		Code:     CodeUnexpectedPacket,
		SQLState: sqlStateCommLink,
		Fatal:    true,
	}
}

func publicKeyRetrievalError(mechanism string) *Error {
	return &Error{
		Message: fmt.Sprintf("%v requires the server RSA public key over an insecure connection: "+
			"enable AllowPublicKeyRetrieval or connect over TLS", mechanism),
		Code:     CodePublicKeyRetrievalDisabled,
		SQLState: sqlStateAccessDenied,
		Fatal:    true,
	}
}

// serverError converts an ERR_Packet payload into a fatal error record,
// keeping the server code and SQLSTATE verbatim.
func serverError(err *protocol.ServerError) *Error {
	state := err.State
	if state == "" {
		state = "HY000"
	}
	return &Error{
		Message:  err.Message,
		Code:     err.Code,
		SQLState: state,
		Fatal:    true,
	}
}
