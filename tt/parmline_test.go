package tt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineBasics(t *testing.T) {
	pl, err := ParseLine(`adduser userid=11 nickname="Doug Smith" chanid=5`)
	require.NoError(t, err)
	assert.Equal(t, "adduser", pl.Event)
	assert.Equal(t, "11", pl.Parms.Get("userid"))
	assert.Equal(t, "Doug Smith", pl.Parms.Get("nickname"))
	assert.Equal(t, "5", pl.Parms.Get("chanid"))
}

func TestParseLineKinds(t *testing.T) {
	pl, err := ParseLine(`updateuser userid=3 sublocal=97 voiceusers=[1,2,3] flag`)
	require.NoError(t, err)
	require.Len(t, pl.Parms, 4)
	assert.Equal(t, KindInt, pl.Parms[0].Kind)
	assert.Equal(t, KindInt, pl.Parms[1].Kind)
	assert.Equal(t, KindList, pl.Parms[2].Kind)
	assert.Equal(t, []string{"1", "2", "3"}, pl.Parms[2].List)
	assert.Equal(t, KindKeyword, pl.Parms[3].Kind)
}

func TestParseLineEscapes(t *testing.T) {
	pl, err := ParseLine(`messagedeliver content="line1\r\nline2 \"quoted\" back\\slash"`)
	require.NoError(t, err)
	assert.Equal(t, "line1\r\nline2 \"quoted\" back\\slash", pl.Parms.Get("content"))
}

func TestRoundTrip(t *testing.T) {
	lines := []string{
		`adduser userid=11 nickname="Doug Smith" chanid=5`,
		`welcome userid=542 servername="My Server" usertimeout=60 protocol="5.0"`,
		`messagedeliver type=1 content="hi \"there\"\r\nbye" srcuserid=2 destuserid=3`,
		`updatechannel channelid=9 voiceusers=[] opers=[4,5]`,
		`ok`,
	}
	for _, line := range lines {
		pl, err := ParseLine(line)
		require.NoError(t, err, line)
		pl2, err := ParseLine(pl.String())
		require.NoError(t, err, line)
		assert.True(t, pl.Equal(pl2), "round trip changed %q", line)
	}
}

func TestStringAlwaysQuotesStrings(t *testing.T) {
	pl := NewLine("login", StringParm("username", "fred"), IntParm("udpport", 10333))
	assert.Equal(t, `login username="fred" udpport=10333`, pl.String())
}

func TestParseLineRelaxed(t *testing.T) {
	// Strict mode refuses bare flags; relaxed mode keeps them as keywords.
	_, err := ParseLine(`op -m fred`)
	require.Error(t, err)
	pl, err := ParseLineRelaxed(`op -m fred`)
	require.NoError(t, err)
	assert.Equal(t, "op", pl.Event)
	require.Len(t, pl.Parms, 2)
	assert.Equal(t, "-m", pl.Parms[0].Name)
	assert.Equal(t, "fred", pl.Parms[1].Name)
}

func TestParmsAlias(t *testing.T) {
	pl, err := ParseLine(`addchannel channelid=4 name="x" parentid=1`)
	require.NoError(t, err)
	assert.Equal(t, "4", pl.Parms.Get("chanid"))
	assert.True(t, pl.Parms.Has("ChanID"))
}

func TestParseLineBadInput(t *testing.T) {
	_, err := ParseLine("")
	assert.Error(t, err)
	_, err = ParseLine("   \r\n")
	assert.Error(t, err)
	_, err = ParseLine(`123 userid=1`)
	assert.Error(t, err)
}

func TestNegativeAndBadInts(t *testing.T) {
	pl, err := ParseLine(`stats uptime=-5`)
	require.NoError(t, err)
	assert.Equal(t, KindInt, pl.Parms[0].Kind)
	assert.Equal(t, "-5", pl.Parms[0].Value)
}
