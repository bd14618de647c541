// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package wsgate is a WebSocket host for the gate. A client connects, says
// hello with its name and protocol version, answers credential dialogs and
// is told which backend to attach to. Backends themselves are simulated:
// a transfer is an instruction to the client.
package wsgate

import (
	"encoding/json"

	"github.com/holomush/gatehouse/internal/dialog"
)

// Envelope types sent by clients.
const (
	TypeHello        = "hello"
	TypeDialogAction = "dialog_action"
	TypeKicked       = "kicked"
	TypeChat         = "chat"
)

// Envelope types sent by the server.
const (
	TypeShowDialog = "show_dialog"
	TypeMessage    = "message"
	TypeTransfer   = "transfer"
	TypeDisconnect = "disconnect"
)

// Envelope frames every WebSocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hello opens a session.
type Hello struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

// DialogAction answers a show_dialog.
type DialogAction struct {
	DialogID string            `json:"dialog_id"`
	Action   string            `json:"action"`
	Payload  map[string]string `json:"payload,omitempty"`
}

// Kicked reports that a backend dropped the client.
type Kicked struct {
	Backend       string `json:"backend"`
	Reason        string `json:"reason"`
	DuringConnect bool   `json:"during_connect,omitempty"`
}

// Chat is a line typed by the player. Authentication commands are taken by
// the gate; there is no backend to forward the rest to.
type Chat struct {
	Text string `json:"text"`
}

// ShowDialog asks the client to render a form.
type ShowDialog struct {
	Mode string `json:"mode"`
	dialog.Request
}

// Message is plain text for the player.
type Message struct {
	Text string `json:"text"`
}

// Transfer tells the client which backend it is attached to now.
type Transfer struct {
	Backend string `json:"backend"`
	Address string `json:"address"`
}

// Disconnect precedes the server closing the socket.
type Disconnect struct {
	Reason string `json:"reason"`
}

func newEnvelope(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Payload: raw}, nil
}
