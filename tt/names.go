package tt

import (
	"fmt"
	"regexp"
	"strings"
)

var facebookUserRE = regexp.MustCompile(`^\d+@facebook\.com`)

// UserDisplayName builds a printable name for a user that is never empty:
// nickname with username, just the username, or a nameless-user marker.
// forceDetails adds the userid and IP address. includeUserType prefixes
// "User" or "Admin". Facebook ids are shortened to "Facebook" when both
// sides are 5.3 or later.
func (s *Server) UserDisplayName(user AttrDict, forceDetails, includeUserType bool) string {
	if user == nil {
		return "<unknown user>"
	}
	nickname := user.Get("nickname")
	username := user.Get("username")
	sver := s.Info.Get("version")
	uver := user.Get("version")
	if sver >= "5.3" && uver >= "5.3" {
		username = facebookUserRE.ReplaceAllString(username, "Facebook")
	}
	name := nickname
	idIncluded := false
	if name != "" {
		name = "\"" + name + "\""
		if username != "" {
			name += " (" + username + ")"
		}
	} else if username != "" {
		name = "(" + username + ")"
	} else {
		name = fmt.Sprintf("<nameless user %s>", user.Get("userid"))
		forceDetails = true
		idIncluded = true
	}
	if includeUserType {
		var utype string
		switch user.Get("usertype") {
		case "1":
			utype = "User"
		case "2":
			utype = "Admin"
		default:
			utype = "UserType" + user.Get("usertype")
		}
		name = utype + " " + name
	}
	if !forceDetails {
		return name
	}
	ip := user.Get("ipaddr")
	if ip == "" || strings.HasPrefix(ip, "0.0.0.0") {
		ip = user.Get("udpaddr")
		if ip == "" || strings.HasPrefix(ip, "0.0.0.0") {
			ip = ""
		}
		if ip != "" {
			ip = "UDP " + stripPort(ip)
		}
	}
	if ip != "" {
		name += " from " + ip
	}
	if !idIncluded {
		name += fmt.Sprintf(" (userid %s)", user.Get("userid"))
	}
	return name
}

// userName resolves a userid to a display name. Unknown ids happen on
// servers that hide participants across channels; those print as a bare
// userid marker.
func (s *Server) userName(userid string, forceDetails, includeUserType bool) string {
	s.mu.RLock()
	user, ok := s.Users[userid]
	s.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("<userid %s>", userid)
	}
	return s.UserDisplayName(user, forceDetails, includeUserType)
}

// ChannelName adjusts a channel id for printing. The root channel "/"
// prints as "the root channel" unless preserveRootName is set.
func (s *Server) ChannelName(chanid string, preserveRootName bool) string {
	s.mu.RLock()
	ch, ok := s.Channels[chanid]
	s.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("<chanid %s>", chanid)
	}
	name := ch.Get("channel")
	if name == "" {
		s.mu.Lock()
		s.updateChannelPathLocked(ch)
		name = ch.Get("channel")
		s.mu.Unlock()
	}
	return AdjustChannelName(name, preserveRootName)
}

// AdjustChannelName applies root-channel naming to a raw channel path.
func AdjustChannelName(name string, preserveRootName bool) string {
	if name == "/" && !preserveRootName {
		return "the root channel"
	}
	return name
}
