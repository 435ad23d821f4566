package libsrc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FamilySearch/pewpew/internal/value"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lib.star")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRegistryLoadsFunctionsAndCallsThem(t *testing.T) {
	path := writeScript(t, `
def double(x):
    return x * 2

def greet(name):
    return "hello " + name
`)
	reg, err := Load(path)
	require.NoError(t, err)

	names := reg.Names()
	require.True(t, names["double"])
	require.True(t, names["greet"])

	v, err := reg.Call("double", []value.Value{value.NewInt(21)})
	require.NoError(t, err)
	require.Equal(t, int64(42), v.Int())

	v, err = reg.Call("greet", []value.Value{value.NewString("pewpew")})
	require.NoError(t, err)
	require.Equal(t, "hello pewpew", v.Str())
}

func TestRegistryCallUnknownFunctionErrors(t *testing.T) {
	path := writeScript(t, `def f(): return 1`)
	reg, err := Load(path)
	require.NoError(t, err)

	_, err = reg.Call("missing", nil)
	require.Error(t, err)
}
