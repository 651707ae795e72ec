// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveLazyOpen(t *testing.T) {
	dir := t.TempDir()
	out, err := NewFileOutput(filepath.Join(dir, "sub", "deep", "app.log"), "")
	require.NoError(t, err)

	var st outputState
	now := time.Date(2024, 3, 7, 15, 4, 5, 0, time.Local)

	f, err := st.resolve(out, now, false, openAppend, false)
	require.NoError(t, err)
	require.NotNil(t, f)

	// missing ancestor directories were created on the way
	_, err = os.Stat(filepath.Join(dir, "sub", "deep"))
	require.NoError(t, err)

	_, err = f.WriteString("hello\n")
	require.NoError(t, err)

	// same name, no force: the open descriptor is reused
	again, err := st.resolve(out, now, false, openAppend, false)
	require.NoError(t, err)
	require.Same(t, f, again)

	require.NoError(t, f.Close())
}

func TestResolveRotatesOnNameChange(t *testing.T) {
	dir := t.TempDir()
	out, err := NewFileOutput(filepath.Join(dir, "app-%H%M%S.log"), "")
	require.NoError(t, err)

	var st outputState
	now := time.Date(2024, 3, 7, 15, 4, 5, 0, time.Local)

	f1, err := st.resolve(out, now, false, openAppend, false)
	require.NoError(t, err)
	_, err = f1.WriteString("one")
	require.NoError(t, err)

	f2, err := st.resolve(out, now.Add(time.Second), false, openAppend, false)
	require.NoError(t, err)
	require.NotSame(t, f1, f2)
	_, err = f2.WriteString("two")
	require.NoError(t, err)

	// the previous descriptor was closed by the rotation
	_, err = f1.WriteString("stale")
	require.ErrorIs(t, err, os.ErrClosed)

	b, err := os.ReadFile(filepath.Join(dir, "app-150405.log"))
	require.NoError(t, err)
	require.Equal(t, "one", string(b))

	b, err = os.ReadFile(filepath.Join(dir, "app-150406.log"))
	require.NoError(t, err)
	require.Equal(t, "two", string(b))

	require.NoError(t, f2.Close())
}

func TestResolveForcedReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	out, err := NewFileOutput(path, "")
	require.NoError(t, err)

	var st outputState
	now := time.Now()

	f1, err := st.resolve(out, now, false, openAppend, false)
	require.NoError(t, err)
	_, err = f1.WriteString("one")
	require.NoError(t, err)

	// forced rotation re-opens even though the name is unchanged
	f2, err := st.resolve(out, now, true, openAppend, false)
	require.NoError(t, err)
	require.NotSame(t, f1, f2)

	_, err = f2.WriteString("two")
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "onetwo", string(b))
}

func TestResolveDescriptorOutput(t *testing.T) {
	out, err := NewFDOutput(os.Stdout)
	require.NoError(t, err)

	var st outputState
	f, err := st.resolve(out, time.Now(), true, openAppend, false)
	require.NoError(t, err)
	require.Same(t, os.Stdout, f)
	require.Nil(t, st.file)
}

func TestResolveSeekEndAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0o644))

	out, err := NewFileOutput(path, "")
	require.NoError(t, err)

	var st outputState
	f, err := st.resolve(out, time.Now(), false, openSeekEnd, false)
	require.NoError(t, err)

	// read-write mode with manual seek must not clobber existing content
	_, err = f.WriteString("+new")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "existing+new", string(b))
}

func TestResolveMaintainsLink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "latest", "app.log")
	out, err := NewFileOutput(filepath.Join(dir, "app-%H%M%S.log"), link)
	require.NoError(t, err)

	var st outputState
	now := time.Date(2024, 3, 7, 15, 4, 5, 0, time.Local)

	_, err = st.resolve(out, now, false, openAppend, false)
	require.NoError(t, err)
	require.Equal(t, canonical(t, filepath.Join(dir, "app-150405.log")), readLink(t, link))

	f2, err := st.resolve(out, now.Add(time.Second), false, openAppend, false)
	require.NoError(t, err)
	require.Equal(t, canonical(t, filepath.Join(dir, "app-150406.log")), readLink(t, link))

	require.NoError(t, f2.Close())
}

func TestResolveLinkFailure(t *testing.T) {
	dir := t.TempDir()

	// a non-empty directory at the link path cannot be removed and replaced
	// by a symlink
	link := filepath.Join(dir, "latest")
	require.NoError(t, os.Mkdir(link, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(link, "keep"), []byte("x"), 0o644))

	out, err := NewFileOutput(filepath.Join(dir, "app.log"), link)
	require.NoError(t, err)

	// without exit-on-write-error the descriptor is still usable
	var st outputState
	f, err := st.resolve(out, time.Now(), false, openAppend, false)
	require.NoError(t, err)
	require.NotNil(t, f)
	require.NoError(t, f.Close())
	st = outputState{}

	// with it the whole rotation fails
	_, err = st.resolve(out, time.Now(), false, openAppend, true)
	require.Error(t, err)
	require.Nil(t, st.file)
}

func TestEnsureParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c", "app.log")

	require.NoError(t, ensureParentDirs(path))
	require.NoError(t, ensureParentDirs(path)) // idempotent

	info, err := os.Stat(filepath.Join(dir, "a", "b", "c"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	require.NoError(t, ensureParentDirs("app.log")) // no ancestors to create
}

func canonical(t *testing.T, path string) string {
	t.Helper()

	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(abs)
	require.NoError(t, err)

	return resolved
}

func readLink(t *testing.T, link string) string {
	t.Helper()

	target, err := os.Readlink(link)
	require.NoError(t, err)

	return target
}
