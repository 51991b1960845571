package tt

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diffServer(out *outputCapture) *Server {
	s := NewServer("example.com", 0, "x", nil, "4.0.0")
	s.OnOutput = func(_ *Server, line string, _ bool) { out.add(line) }
	return s
}

func TestUpdateParmsNewAndCleared(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	record := AttrDict{"nickname": "Fred", "note": "old"}
	s.updateParms("Fred", record, AttrDict{"nickname": "Freddy", "note": ""}, false, nil)
	require.Len(t, out.all(), 1)
	line := out.all()[0]
	assert.Contains(t, line, "Fred: ")
	assert.Contains(t, line, `nickname changed to "Freddy"`)
	assert.Contains(t, line, "note cleared")
}

func TestUpdateParmsSilent(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	record := AttrDict{}
	s.updateParms("x", record, AttrDict{"nickname": "Fred"}, true, nil)
	assert.Empty(t, out.all())
	assert.Equal(t, "Fred", record.Get("nickname"))
}

func TestUpdateParmsPreserve(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	record := AttrDict{"parentid": "1", "channel": "/ops/", "topic": "old"}
	s.updateParms("", record, AttrDict{"name": "ops", "chanid": "2"}, true,
		[]string{"parentid", "channel"})
	// Replace semantics: unlisted old fields drop, preserved ones stay.
	assert.False(t, record.Has("topic"))
	assert.Equal(t, "1", record.Get("parentid"))
	assert.Equal(t, "ops", record.Get("name"))
}

func TestChannelPathRecompute(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	s.Channels["1"] = AttrDict{"chanid": "1", "parentid": "0", "name": "", "channel": "/"}
	s.Channels["2"] = AttrDict{"chanid": "2", "parentid": "1", "name": "ops", "channel": "/ops/"}
	sub := AttrDict{"chanid": "3", "parentid": "2", "name": "sub"}
	s.Channels["3"] = sub
	s.mu.Lock()
	s.updateChannelPathLocked(sub)
	s.mu.Unlock()
	assert.Equal(t, "/ops/sub/", sub.Get("channel"))
	// Renaming the parent changes the child's recomputed path.
	s.Channels["2"].Set("name", "crew")
	s.mu.Lock()
	s.updateChannelPathLocked(sub)
	s.mu.Unlock()
	assert.Equal(t, "/crew/sub/", sub.Get("channel"))
}

func TestUdpaddrSquelch(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	// Port-only changes are noise.
	record := AttrDict{"udpaddr": "10.0.0.1:4000"}
	s.updateParms("u", record, AttrDict{"udpaddr": "10.0.0.1:4212"}, false, nil)
	assert.Empty(t, out.all())
	// Null addresses compare as empty.
	record = AttrDict{"udpaddr": "0.0.0.0:0"}
	s.updateParms("u", record, AttrDict{"udpaddr": "[::]:0"}, false, nil)
	assert.Empty(t, out.all())
	// A real address change reports.
	record = AttrDict{"udpaddr": "10.0.0.1:4000"}
	s.updateParms("u", record, AttrDict{"udpaddr": "10.0.0.2:4000"}, false, nil)
	require.Len(t, out.all(), 1)
	assert.Contains(t, out.all()[0], `udpaddr changed from "10.0.0.1" to "10.0.0.2"`)
}

func TestListElementDiff(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	record := AttrDict{"voiceusers": "[1,2,3]"}
	s.updateParms("c", record, AttrDict{"voiceusers": "[1,5,3]"}, false, nil)
	require.Len(t, out.all(), 1)
	assert.Contains(t, out.all()[0], `voiceusers[2] changed from "2" to "5"`)
}

func TestStatusMessageSet(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	record := AttrDict{"nickname": "Fred", "statusmode": "0", "statusmsg": ""}
	record.Set("statustime", strconv.FormatInt(base.Unix(), 10))
	s.now = func() time.Time { return base.Add(95 * time.Second) }
	s.updateParms("Fred", record,
		AttrDict{"statusmode": "1", "statusmsg": "brb"}, false, nil)
	require.Len(t, out.all(), 1)
	assert.Equal(t, `Fred: status idle (message "brb") after 00:01:35`, out.all()[0])
}

func TestStatusMessageCleared(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	record := AttrDict{"statusmode": "1", "statusmsg": "brb"}
	s.updateParms("Fred", record,
		AttrDict{"statusmode": "0", "statusmsg": ""}, false, nil)
	require.Len(t, out.all(), 1)
	assert.Contains(t, out.all()[0], "status active, message cleared")
}

func TestStatusBitGroups(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	record := AttrDict{"statusmode": "0", "statustime": "1"}
	// 512 is video on, 2048 is streaming on.
	s.updateParms("Fred", record,
		AttrDict{"statusmode": strconv.Itoa(512 + 2048)}, false, nil)
	require.Len(t, out.all(), 1)
	assert.Contains(t, out.all()[0], "enabled video")
	assert.Contains(t, out.all()[0], "started streaming")
}

func TestSubscriptionDiffV5(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	s.Info.Set("version", "5.3.0")
	// user messages (1) + audio (16) on, then audio replaced by video (32).
	record := AttrDict{"sublocal": "17"}
	s.updateParms("Fred", record, AttrDict{"sublocal": "33"}, false, nil)
	require.Len(t, out.all(), 1)
	assert.Contains(t, out.all()[0], "local subscription changes: -a +v")
}

func TestSubscriptionDiffV4Intercepts(t *testing.T) {
	out := &outputCapture{}
	s := diffServer(out)
	s.Info.Set("version", "4.6.0")
	// Bit 8 in the v4 table is the "U" user-message intercept.
	record := AttrDict{"subpeer": "0"}
	s.updateParms("Fred", record, AttrDict{"subpeer": "256"}, false, nil)
	require.Len(t, out.all(), 1)
	assert.Contains(t, out.all()[0], "remote subscription changes: +U")
}

func TestSecsToTime(t *testing.T) {
	assert.Equal(t, "00:00:00", secsToTime(0))
	assert.Equal(t, "00:01:35", secsToTime(95))
	assert.Equal(t, "27:46:40", secsToTime(100000))
}

func TestCollectBits(t *testing.T) {
	bits, o, n, cnt := collectBits(0b1010, 0b1000, 0b0010)
	assert.Equal(t, 0b11, bits)
	assert.Equal(t, 0b10, o)
	assert.Equal(t, 0b01, n)
	assert.Equal(t, 2, cnt)
}

func TestDoFlagBitsUnitNames(t *testing.T) {
	assert.Equal(t, []string{"idle"},
		doFlagBits(0, 1, 3, []string{"active", "idle", "question", "stat3"}))
	assert.Equal(t, []string{"active"},
		doFlagBits(1, 0, 3, []string{"active", "idle", "question", "stat3"}))
	assert.Empty(t, doFlagBits(1, 1, 3, []string{"active", "idle", "question", "stat3"}))
}
