package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	_, err := SafeJoin(base, "/etc/passwd")
	assert.Error(t, err)

	_, err = SafeJoin(base, "../escape.py")
	assert.Error(t, err)

	_, err = SafeJoin(base, "sub/../../escape.py")
	assert.Error(t, err)

	got, err := SafeJoin(base, "pkg/mod.py")
	require.NoError(t, err)
	assert.Contains(t, got, base)

	// Dot segments that stay inside the base are fine.
	_, err = SafeJoin(base, "a/../b.py")
	assert.NoError(t, err)
}

func TestEntryPoint(t *testing.T) {
	assert.Equal(t, "main.py", EntryPoint(map[string]string{
		"util.py": "",
		"main.py": "",
	}))
	assert.Equal(t, "index.js", EntryPoint(map[string]string{
		"index.js": "",
	}))
	assert.Equal(t, "solo.py", EntryPoint(map[string]string{
		"solo.py":   "",
		"README.md": "",
	}))
	assert.Equal(t, "", EntryPoint(map[string]string{
		"README.md": "",
	}))
	assert.Equal(t, "", EntryPoint(nil))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "my-app_2", SanitizeName("my-app 2"))
	assert.Equal(t, "project", SanitizeName(""))
	assert.Equal(t, "a_b_c", SanitizeName("a/b/c"))
	assert.Len(t, SanitizeName(string(make([]byte, 100))), 50)
}

func TestExecRunner_CheckNoEntryPoint(t *testing.T) {
	r := NewExecRunner(0)
	res, err := r.Check(t.Context(), map[string]string{"README.md": "docs only"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}
