// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgnet

import "errors"

var (
	// ErrConnNotReady means the target connection is not established or
	// already gone.
	ErrConnNotReady = errors.New("msgnet: connection not ready")

	// ErrOversizedMsg means a frame header announced a payload beyond
	// MaxMsgSize; the connection is terminated.
	ErrOversizedMsg = errors.New("msgnet: oversized message")

	// ErrClientNotExist means no accepted connection is known for the
	// given address.
	ErrClientNotExist = errors.New("msgnet: client does not exist")
)
