// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatehouse/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErrCode string
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "negative parses", input: "-1", wantVersion: -1},
		{name: "trailing chars are ignored", input: "3abc", wantVersion: 3},
		{name: "leading whitespace is handled", input: "  42", wantVersion: 42},
		{name: "non-numeric", input: "abc", wantErrCode: "INVALID_VERSION"},
		{name: "empty", input: "", wantErrCode: "INVALID_VERSION"},
		{name: "whitespace only", input: "   ", wantErrCode: "INVALID_VERSION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseForceVersion(tt.input)
			if tt.wantErrCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantErrCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, got)
		})
	}
}

type fakeMigrator struct {
	calls   []string
	version uint
	dirty   bool
	forced  int
	err     error
	closed  bool
}

func (m *fakeMigrator) Up() error   { m.calls = append(m.calls, "up"); return m.err }
func (m *fakeMigrator) Down() error { m.calls = append(m.calls, "down"); return m.err }
func (m *fakeMigrator) Version() (uint, bool, error) {
	m.calls = append(m.calls, "version")
	return m.version, m.dirty, m.err
}
func (m *fakeMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.forced = v
	return m.err
}
func (m *fakeMigrator) Close() error { m.closed = true; return nil }

func migrateDeps(m *fakeMigrator, gotURL *string) *Deps {
	return &Deps{MigratorFactory: func(url string) (Migrator, error) {
		*gotURL = url
		return m, nil
	}}
}

func TestMigrate_Up(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	m := &fakeMigrator{}
	var url string

	res := execute(context.Background(), migrateDeps(m, &url), "", "migrate", "up")
	require.NoError(t, res.err)
	assert.Equal(t, "postgres://env/db", url)
	assert.Equal(t, []string{"up"}, m.calls)
	assert.True(t, m.closed)
	assert.Contains(t, res.out, "Migrations completed successfully")
}

func TestMigrate_DownUsesConfigFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "database_url: postgres://file/db\n")
	m := &fakeMigrator{}
	var url string

	res := execute(context.Background(), migrateDeps(m, &url), "", "--config", path, "migrate", "down")
	require.NoError(t, res.err)
	assert.Equal(t, "postgres://file/db", url)
	assert.Equal(t, []string{"down"}, m.calls)
}

func TestMigrate_Version(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	var url string

	res := execute(context.Background(), migrateDeps(&fakeMigrator{version: 1}, &url), "", "migrate", "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "Version: 1\n")

	res = execute(context.Background(), migrateDeps(&fakeMigrator{version: 1, dirty: true}, &url), "", "migrate", "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "Version: 1 (dirty)")
}

func TestMigrate_Force(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	m := &fakeMigrator{}
	var url string

	res := execute(context.Background(), migrateDeps(m, &url), "", "migrate", "force", "1")
	require.NoError(t, res.err)
	assert.Equal(t, 1, m.forced)

	res = execute(context.Background(), migrateDeps(m, &url), "", "migrate", "force", "abc")
	errutil.AssertErrorCode(t, res.err, "INVALID_VERSION")
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	isolate(t)
	var url string

	res := execute(context.Background(), migrateDeps(&fakeMigrator{}, &url), "", "migrate", "up")
	errutil.AssertErrorCode(t, res.err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, res.err, "field", "database_url")
	assert.Empty(t, url)
}

func TestMigrate_PropagatesFailure(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	m := &fakeMigrator{err: oops.Code("MIGRATION_UP_FAILED").Wrap(errors.New("boom"))}
	var url string

	res := execute(context.Background(), migrateDeps(m, &url), "", "migrate", "up")
	errutil.AssertErrorCode(t, res.err, "MIGRATION_UP_FAILED")
	assert.True(t, m.closed)
}
