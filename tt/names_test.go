package tt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func namesServer() *Server {
	s := NewServer("example.com", 0, "x", nil, "4.0.0")
	s.Info.Set("version", "5.3.0")
	return s
}

func TestUserDisplayName(t *testing.T) {
	s := namesServer()
	u := AttrDict{"userid": "5", "nickname": "Fred", "username": "fred"}
	assert.Equal(t, `"Fred" (fred)`, s.UserDisplayName(u, false, false))

	u = AttrDict{"userid": "5", "username": "fred"}
	assert.Equal(t, "(fred)", s.UserDisplayName(u, false, false))

	u = AttrDict{"userid": "5"}
	// Nameless users always carry details.
	assert.Equal(t, "<nameless user 5> (userid 5)", s.UserDisplayName(u, false, false))
}

func TestUserDisplayNameUserType(t *testing.T) {
	s := namesServer()
	u := AttrDict{"userid": "5", "nickname": "Fred", "usertype": "2"}
	assert.Equal(t, `Admin "Fred"`, s.UserDisplayName(u, false, true))
	u.Set("usertype", "1")
	assert.Equal(t, `User "Fred"`, s.UserDisplayName(u, false, true))
	u.Set("usertype", "7")
	assert.Equal(t, `UserType7 "Fred"`, s.UserDisplayName(u, false, true))
}

func TestUserDisplayNameDetails(t *testing.T) {
	s := namesServer()
	u := AttrDict{"userid": "5", "nickname": "Fred", "ipaddr": "10.1.2.3:4444"}
	got := s.UserDisplayName(u, true, false)
	assert.Contains(t, got, "from 10.1.2.3")
	assert.Contains(t, got, "(userid 5)")

	// Null ipaddr falls back to the UDP address without its port.
	u = AttrDict{"userid": "5", "nickname": "Fred", "ipaddr": "0.0.0.0:0", "udpaddr": "10.9.8.7:4000"}
	got = s.UserDisplayName(u, true, false)
	assert.Contains(t, got, "from UDP 10.9.8.7")
}

func TestFacebookShortening(t *testing.T) {
	s := namesServer()
	u := AttrDict{"userid": "5", "username": "12345@facebook.com", "version": "5.3.1"}
	assert.Equal(t, "(Facebook)", s.UserDisplayName(u, false, false))
	// Pre-5.3 clients keep the raw id.
	u.Set("version", "5.2.0")
	assert.Equal(t, "(12345@facebook.com)", s.UserDisplayName(u, false, false))
}

func TestUserNameUnknownID(t *testing.T) {
	s := namesServer()
	assert.Equal(t, "<userid 42>", s.userName("42", false, false))
}

func TestChannelName(t *testing.T) {
	s := namesServer()
	s.Channels["1"] = AttrDict{"chanid": "1", "channel": "/"}
	s.Channels["2"] = AttrDict{"chanid": "2", "channel": "/ops/"}
	assert.Equal(t, "the root channel", s.ChannelName("1", false))
	assert.Equal(t, "/", s.ChannelName("1", true))
	assert.Equal(t, "/ops/", s.ChannelName("2", false))
	assert.Equal(t, "<chanid 9>", s.ChannelName("9", false))
}
