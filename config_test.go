package ttcom

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ttcom.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigBasic(t *testing.T) {
	path := writeConf(t, `
[server defaults]
nickname=TTCom Bot

[server alpha]
host=alpha.example.com
tcpport=2010
username=fred
password=pw
autologin=1

[server beta]
host=beta.example.com
encrypted=true
silent=2
hidden=1
nickname=Beta Bot
`)
	cfgs, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	alpha := cfgs[0]
	assert.Equal(t, "alpha", alpha.Shortname)
	assert.Equal(t, "alpha.example.com", alpha.Host)
	assert.Equal(t, 2010, alpha.TCPPort)
	assert.Equal(t, 1, alpha.AutoLogin)
	assert.False(t, alpha.Encrypted)
	assert.Equal(t, "fred", alpha.LoginParms.Get("username"))
	// The defaults section contributes to every server.
	assert.Equal(t, "TTCom Bot", alpha.LoginParms.Get("nickname"))

	beta := cfgs[1]
	assert.True(t, beta.Encrypted)
	assert.Equal(t, 2, beta.Silent)
	assert.True(t, beta.Hidden)
	// The server's own section overrides the defaults.
	assert.Equal(t, "Beta Bot", beta.LoginParms.Get("nickname"))
}

func TestLoadConfigInclude(t *testing.T) {
	path := writeConf(t, `
[include creds]
username=shared
password=pw

[include creds2]
include=creds
nickname=Nested

[server alpha]
host=a.example.com
include=creds2
`)
	cfgs, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "shared", cfgs[0].LoginParms.Get("username"))
	assert.Equal(t, "Nested", cfgs[0].LoginParms.Get("nickname"))
}

func TestLoadConfigIncludeMissing(t *testing.T) {
	path := writeConf(t, `
[server alpha]
host=a.example.com
include=nosuch
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include nosuch")
}

func TestLoadConfigIncludeOrderOverrides(t *testing.T) {
	// Included pairs replace their include= line in place, so a later
	// line in the section still overrides them.
	path := writeConf(t, `
[include creds]
username=shared

[server alpha]
host=a.example.com
include=creds
username=own
`)
	cfgs, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "own", cfgs[0].LoginParms.Get("username"))
}

func TestLoadConfigTriggers(t *testing.T) {
	path := writeConf(t, `
[server alpha]
host=a.example.com
match joinalert=loggedin nickname=.*fred.*
action joinalert=say fred is here
match watch.first=loggedin address=1.2.3
action watch.first=kick %(userid)
`)
	cfgs, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfgs[0].Triggers, 4)
	assert.Equal(t, TriggerSpec{
		Kind: "match", Trigger: "joinalert", Name: "",
		Value: "loggedin nickname=.*fred.*",
	}, cfgs[0].Triggers[0])
	assert.Equal(t, TriggerSpec{
		Kind: "match", Trigger: "watch", Name: "first",
		Value: "loggedin address=1.2.3",
	}, cfgs[0].Triggers[2])
	// Trigger keys never leak into login parameters.
	assert.False(t, cfgs[0].LoginParms.Has("match joinalert"))
}

func TestLoadConfigDuplicateServer(t *testing.T) {
	path := writeConf(t, `
[server alpha]
host=a.example.com

[server alpha]
host=b.example.com
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}
