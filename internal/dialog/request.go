// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package dialog

import (
	"github.com/oklog/ulid/v2"
)

// Input and action identifiers shared with clients.
const (
	FieldPassword        = "password"
	FieldConfirmPassword = "confirm_password"

	ActionSubmit = "gatehouse:submit"
	ActionCancel = "gatehouse:cancel"
)

// Mode selects between the login and registration forms.
type Mode int

// Dialog modes.
const (
	ModeLogin Mode = iota
	ModeRegister
)

func (m Mode) String() string {
	if m == ModeRegister {
		return "register"
	}
	return "login"
}

// Input is one text field of the form.
type Input struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	MaxLength int    `json:"max_length"`
}

// Button is one action button of the form.
type Button struct {
	Action string `json:"action"`
	Label  string `json:"label"`
}

// Request describes the form to show. ID identifies this instance; a reply
// must echo it.
type Request struct {
	ID     ulid.ULID `json:"id"`
	Mode   Mode      `json:"-"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Inputs []Input   `json:"inputs"`
	Submit Button    `json:"submit"`
	Cancel Button    `json:"cancel"`
}

// Response is a client reply to a dialog. The set of implementations is
// closed: Submitted, Cancelled and Unrecognized.
type Response interface {
	Dialog() ulid.ULID
	isResponse()
}

// Submitted carries the field values of a submitted form.
type Submitted struct {
	DialogID ulid.ULID
	Fields   map[string]string
}

// Cancelled reports that the player closed or cancelled the form.
type Cancelled struct {
	DialogID ulid.ULID
}

// Unrecognized is a reply with an action the gate does not know.
type Unrecognized struct {
	DialogID ulid.ULID
	Action   string
}

// Dialog implements Response.
func (s Submitted) Dialog() ulid.ULID { return s.DialogID }

// Dialog implements Response.
func (c Cancelled) Dialog() ulid.ULID { return c.DialogID }

// Dialog implements Response.
func (u Unrecognized) Dialog() ulid.ULID { return u.DialogID }

func (Submitted) isResponse()    {}
func (Cancelled) isResponse()    {}
func (Unrecognized) isResponse() {}

// Decode maps a raw client action onto a Response.
func Decode(dialogID ulid.ULID, action string, fields map[string]string) Response {
	switch action {
	case ActionSubmit:
		return Submitted{DialogID: dialogID, Fields: fields}
	case ActionCancel:
		return Cancelled{DialogID: dialogID}
	default:
		return Unrecognized{DialogID: dialogID, Action: action}
	}
}
