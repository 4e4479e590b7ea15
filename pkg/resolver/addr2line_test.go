package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocateExplicit(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "my-addr2line")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	path, err := Locate(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, path)
}

func TestLocateExplicitMissing(t *testing.T) {
	_, err := Locate(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestLocateExplicitNotExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "plain-file")
	require.NoError(t, os.WriteFile(bin, []byte("data"), 0o644))

	_, err := Locate(bin)
	require.Error(t, err)
}

func TestDemangleFilter(t *testing.T) {
	assert.Equal(t, "_Z3foov", DemangleNone.filter()("_Z3foov"))
	assert.Equal(t, "foo()", DemangleFull.filter()("_Z3foov"))
	assert.Equal(t, "plain_c_symbol", DemangleFull.filter()("plain_c_symbol"))
}
