package ttcom

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, conf string) (*App, string, *[]string) {
	t.Helper()
	path := writeConf(t, conf)
	app, err := NewApp(path)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	var got []string
	app.Write = func(line string) { got = append(got, line) }
	return app, path, &got
}

func TestReadServersBuildsRegistry(t *testing.T) {
	app, _, _ := newTestApp(t, `
[server alpha]
host=alpha.example.com
username=fred

[server beta]
host=beta.example.com
silent=1
`)
	require.NoError(t, app.ReadServers(nil))
	assert.Equal(t, []string{"alpha", "beta"}, app.Registry().Shortnames())
	assert.Equal(t, "alpha", app.Current())

	alpha := app.Registry().Get("alpha")
	require.NotNil(t, alpha)
	assert.Equal(t, "alpha.example.com", alpha.Host)
	assert.Equal(t, "fred", alpha.LoginParms.Get("username"))
	// Forced login parameters are in place.
	assert.Equal(t, "TTCom", alpha.LoginParms.Get("clientname"))
	assert.Equal(t, 1, app.Registry().Get("beta").Silent)
}

func TestReadServersDiffApply(t *testing.T) {
	app, path, got := newTestApp(t, `
[server alpha]
host=alpha.example.com
username=fred

[server beta]
host=beta.example.com
`)
	require.NoError(t, app.ReadServers(nil))
	alpha := app.Registry().Get("alpha")

	// Drop beta, flip a mutable flag on alpha.
	require.NoError(t, os.WriteFile(path, []byte(`
[server alpha]
host=alpha.example.com
username=fred
silent=2
`), 0o644))
	require.NoError(t, app.ReadServers(nil))

	assert.Equal(t, []string{"alpha"}, app.Registry().Shortnames())
	// Flag changes apply in place without replacing the session.
	assert.Same(t, alpha, app.Registry().Get("alpha"))
	assert.Equal(t, 2, alpha.Silent)
	joined := strings.Join(*got, "\n")
	assert.Contains(t, joined, "Deleting beta")
	assert.Contains(t, joined, "silent for alpha changing to 2")
}

func TestReadServersConnectionIdentityChange(t *testing.T) {
	app, path, got := newTestApp(t, `
[server alpha]
host=alpha.example.com
`)
	require.NoError(t, app.ReadServers(nil))
	before := app.Registry().Get("alpha")

	require.NoError(t, os.WriteFile(path, []byte(`
[server alpha]
host=alpha2.example.com
`), 0o644))
	require.NoError(t, app.ReadServers(nil))

	after := app.Registry().Get("alpha")
	assert.NotSame(t, before, after)
	assert.Equal(t, "alpha2.example.com", after.Host)
	assert.Contains(t, strings.Join(*got, "\n"), "Changing connection information for alpha")
}

func TestReadServersNoAutoLogins(t *testing.T) {
	app, _, _ := newTestApp(t, `
[server alpha]
host=alpha.example.com
autologin=1
`)
	app.NoAutoLogins = true
	require.NoError(t, app.ReadServers(nil))
	assert.Equal(t, 0, app.Registry().Get("alpha").AutoLogin)
}
