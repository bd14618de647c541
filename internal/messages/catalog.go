// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package messages resolves message keys to player-facing text.
package messages

import (
	"embed"
	"io/fs"
	"os"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localesFS embed.FS

// Built-in locales. The first entry is the fallback for every key.
var supported = []language.Tag{language.English, language.German}

var matcher = language.NewMatcher(supported)

// Catalog maps message keys to templates for one locale.
type Catalog struct {
	locale   language.Tag
	messages map[string]string
}

// Load builds a catalog for the best built-in match of locale. Keys missing
// from that locale fall back to English. When overridePath is set, the YAML
// file at that path replaces individual keys.
func Load(locale, overridePath string) (*Catalog, error) {
	tag := language.English
	if locale != "" {
		requested, err := language.Parse(locale)
		if err != nil {
			return nil, oops.Code("MESSAGES_INVALID_LOCALE").With("locale", locale).Wrap(err)
		}
		_, idx, _ := matcher.Match(requested)
		tag = supported[idx]
	}

	c := &Catalog{locale: tag, messages: make(map[string]string)}
	if err := c.mergeFS(localesFS, "locales/en.yaml"); err != nil {
		return nil, err
	}
	if tag != language.English {
		if err := c.mergeFS(localesFS, "locales/"+tag.String()+".yaml"); err != nil {
			return nil, err
		}
	}
	if overridePath != "" {
		data, err := os.ReadFile(overridePath) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, oops.Code("MESSAGES_READ_FAILED").With("path", overridePath).Wrap(err)
		}
		if err := c.merge(data, overridePath); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustDefault returns the built-in English catalog.
func MustDefault() *Catalog {
	c, err := Load("", "")
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) mergeFS(fsys fs.FS, path string) error {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return oops.Code("MESSAGES_READ_FAILED").With("path", path).Wrap(err)
	}
	return c.merge(data, path)
}

func (c *Catalog) merge(data []byte, source string) error {
	var entries map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return oops.Code("MESSAGES_PARSE_FAILED").With("source", source).Wrap(err)
	}
	for k, v := range entries {
		c.messages[k] = v
	}
	return nil
}

// Locale returns the locale the catalog was built for.
func (c *Catalog) Locale() language.Tag {
	return c.locale
}

// Get returns the text for key with placeholder/value pairs substituted,
// e.g. Get("info-kick", "%reason%", reason). Unknown keys return the key.
func (c *Catalog) Get(key string, replacements ...string) string {
	text, ok := c.messages[key]
	if !ok {
		return key
	}
	if len(replacements)%2 == 1 {
		replacements = replacements[:len(replacements)-1]
	}
	if len(replacements) == 0 {
		return text
	}
	return strings.NewReplacer(replacements...).Replace(text)
}

// IsEmpty reports whether key is missing or blank, meaning the notice it
// names should not be sent.
func (c *Catalog) IsEmpty(key string) bool {
	return strings.TrimSpace(c.messages[key]) == ""
}
