// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package legacy parses the chat commands players on clients without
// dialog support use to authenticate: "/login <password>" and
// "/register <password> <password>".
package legacy

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// Kind is the command a player typed.
type Kind int

// Command kinds.
const (
	KindLogin Kind = iota
	KindRegister
)

func (k Kind) String() string {
	if k == KindRegister {
		return "register"
	}
	return "login"
}

// Command is a parsed authentication command.
type Command struct {
	Kind     Kind
	Password string
	// Confirm is the repeated password of a register command.
	Confirm string
}

// Error codes returned by Parse.
const (
	CodeNotCommand     = "LEGACY_NOT_COMMAND"
	CodeUnknownCommand = "LEGACY_UNKNOWN_COMMAND"
	CodeUsage          = "LEGACY_USAGE"
)

var commandLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Command", Pattern: `/[A-Za-z]+\b`},
	{Name: "Word", Pattern: `\S+`},
	{Name: "whitespace", Pattern: `\s+`},
})

// line is the raw grammar: a command token followed by arguments.
type line struct {
	Name string   `parser:"@Command"`
	Args []string `parser:"@(Word | Command)*"`
}

var parser *participle.Parser[line]

func init() {
	var err error
	parser, err = participle.Build[line](participle.Lexer(commandLexer))
	if err != nil {
		panic(fmt.Sprintf("failed to build command parser: %v", err))
	}
}

var aliases = map[string]Kind{
	"/login":    KindLogin,
	"/l":        KindLogin,
	"/register": KindRegister,
	"/reg":      KindRegister,
}

// IsCommand reports whether text looks like a slash command.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Parse reads an authentication command. Passwords are whitespace
// separated words and keep their case.
func Parse(text string) (Command, error) {
	parsed, err := parser.ParseString("", strings.TrimSpace(text))
	if err != nil {
		return Command{}, oops.Code(CodeNotCommand).Wrapf(err, "parsing command")
	}

	kind, ok := aliases[strings.ToLower(parsed.Name)]
	if !ok {
		return Command{}, oops.Code(CodeUnknownCommand).With("command", parsed.Name).
			Errorf("unknown command %q", parsed.Name)
	}

	switch {
	case kind == KindLogin && len(parsed.Args) == 1:
		return Command{Kind: KindLogin, Password: parsed.Args[0]}, nil
	case kind == KindRegister && len(parsed.Args) == 2:
		return Command{Kind: KindRegister, Password: parsed.Args[0], Confirm: parsed.Args[1]}, nil
	default:
		return Command{Kind: kind}, oops.Code(CodeUsage).
			With("command", kind.String()).
			With("args", len(parsed.Args)).
			Errorf("wrong number of arguments for %s", kind)
	}
}
