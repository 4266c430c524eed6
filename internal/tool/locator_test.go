package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nace/volcrypt/internal/events"
	"github.com/nace/volcrypt/internal/system"
	"github.com/nace/volcrypt/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaths struct {
	paths   []string
	command string
}

func (p fakePaths) ToolInstallPaths() []string { return p.paths }
func (p fakePaths) ToolCommand() string        { return p.command }

func writeBinary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func TestLocateFirstExistingPathWins(t *testing.T) {
	dir := t.TempDir()
	second := writeBinary(t, dir, "second")
	third := writeBinary(t, dir, "third")

	l := NewLocator(fakePaths{paths: []string{filepath.Join(dir, "missing"), dir, second, third}}, testutil.NewFakeRunner(), nil, nil)
	l.Locate()

	assert.Equal(t, State{Path: second, Installed: true}, l.State())
	path, err := l.Require()
	require.NoError(t, err)
	assert.Equal(t, second, path)
}

func TestLocateOverrideFirst(t *testing.T) {
	dir := t.TempDir()
	custom := writeBinary(t, dir, "custom")
	standard := writeBinary(t, dir, "standard")

	l := NewLocator(fakePaths{paths: []string{standard}}, testutil.NewFakeRunner(), nil, nil, WithOverride(custom))
	l.Locate()

	assert.Equal(t, custom, l.State().Path)
}

func TestLocateFallsBackToPATH(t *testing.T) {
	runner := testutil.NewFakeRunner()
	runner.Paths["veracrypt"] = "/home/me/bin/veracrypt"

	l := NewLocator(fakePaths{paths: []string{"/nowhere/veracrypt"}, command: "veracrypt"}, runner, nil, nil)
	l.Locate()

	assert.Equal(t, "/home/me/bin/veracrypt", l.State().Path)
}

func TestLocateNotInstalled(t *testing.T) {
	rec := &events.Recorder{}
	l := NewLocator(fakePaths{paths: []string{"/nowhere/veracrypt"}, command: "veracrypt"}, testutil.NewFakeRunner(), rec, nil)

	l.Locate()
	l.Locate()

	assert.Equal(t, State{}, l.State())
	_, err := l.Require()
	assert.ErrorIs(t, err, system.ErrToolNotFound)

	statuses := rec.ToolStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, Name, statuses[0].Tool)
	assert.Equal(t, StatusNotInstalled, statuses[0].Status)
	assert.Contains(t, statuses[0].Message, "/nowhere/veracrypt")
}

func TestCheckInstallation(t *testing.T) {
	dir := t.TempDir()
	bin := writeBinary(t, dir, "veracrypt")

	runner := testutil.NewFakeRunner()
	runner.SetOutput(bin+" --text --version", "VeraCrypt 1.26.7\n", nil)
	rec := &events.Recorder{}

	l := NewLocator(fakePaths{paths: []string{bin}}, runner, rec, nil)
	assert.True(t, l.CheckInstallation(context.Background()))
	assert.True(t, l.State().Installed)
	assert.Equal(t, []events.ToolStatus{{Tool: Name, Status: StatusInstalled, Message: bin}}, rec.ToolStatuses())

	version, err := l.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.26.7", version)
}

func TestCheckInstallationBrokenBinary(t *testing.T) {
	dir := t.TempDir()
	bin := writeBinary(t, dir, "veracrypt")

	runner := testutil.NewFakeRunner()
	runner.SetOutput(bin, "", &system.ExitError{Command: bin, Code: 127, Stderr: "error while loading shared libraries"})
	rec := &events.Recorder{}

	l := NewLocator(fakePaths{paths: []string{bin}}, runner, rec, nil)
	assert.False(t, l.CheckInstallation(context.Background()))

	state := l.State()
	assert.Equal(t, bin, state.Path)
	assert.False(t, state.Installed)

	_, err := l.Require()
	assert.ErrorIs(t, err, system.ErrToolNotFound)

	statuses := rec.ToolStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, StatusNotInstalled, statuses[0].Status)
}

func TestCheckInstallationMissing(t *testing.T) {
	runner := testutil.NewFakeRunner()
	l := NewLocator(fakePaths{paths: []string{"/nowhere"}, command: "veracrypt"}, runner, nil, nil)

	assert.False(t, l.CheckInstallation(context.Background()))
	assert.Empty(t, runner.Calls())
}

func TestVersionWithoutPath(t *testing.T) {
	l := NewLocator(fakePaths{}, testutil.NewFakeRunner(), nil, nil)

	_, err := l.Version(context.Background())
	assert.ErrorIs(t, err, system.ErrToolNotFound)
}

func TestVersionUnrecognizedOutput(t *testing.T) {
	dir := t.TempDir()
	bin := writeBinary(t, dir, "veracrypt")
	runner := testutil.NewFakeRunner()
	runner.SetOutput(bin, "VeraCrypt nightly\nbuilt yesterday\n", nil)

	l := NewLocator(fakePaths{paths: []string{bin}}, runner, nil, nil)
	l.Locate()

	version, err := l.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "VeraCrypt nightly", version)
}
