package tt

import (
	"fmt"
	"sort"
	"strings"
)

// stateSummary describes the session when it is not fully logged in.
func (s *Server) stateSummary() string {
	return s.State().String()
}

// otherUsers snapshots all users except this one.
func (s *Server) otherUsers() []AttrDict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AttrDict
	for _, u := range s.Users {
		if s.Me != nil && u.Get("userid") == s.Me.Get("userid") {
			continue
		}
		out = append(out, u)
	}
	return out
}

// SummarizeChannels reports who is where on this server, omitting this
// user.
func (s *Server) SummarizeChannels() string {
	if s.State() != StateLoggedIn {
		return s.stateSummary()
	}
	users := s.otherUsers()
	if len(users) == 0 {
		return "No users are connected."
	}
	active := map[string][]string{}
	for _, user := range users {
		channel := user.Get("channel")
		if channel == "" {
			if cid := user.Get("chanid"); cid != "" {
				s.mu.RLock()
				if ch, ok := s.Channels[cid]; ok {
					channel = ch.Get("channel")
				}
				s.mu.RUnlock()
			}
		}
		active[channel] = append(active[channel], s.UserDisplayName(user, false, false))
	}
	channels := make([]string, 0, len(active))
	for ch := range active {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	var lines []string
	nchannels, nusers := 0, 0
	for _, channel := range channels {
		people := active[channel]
		sort.Slice(people, func(i, j int) bool {
			return strings.ToLower(people[i]) < strings.ToLower(people[j])
		})
		nusers += len(people)
		if channel != "" {
			nchannels++
			lines = append(lines, fmt.Sprintf("    %s (%d): %s",
				AdjustChannelName(channel, false), len(people), strings.Join(people, ", ")))
		} else {
			lines = append(lines, fmt.Sprintf("    %d not in a channel: %s",
				len(people), strings.Join(people, ", ")))
		}
	}
	return fmt.Sprintf("Users %d, active channels %d:\n%s",
		nusers, nchannels, strings.Join(lines, "\n"))
}

// SummarizeVersions reports users by packet protocol, client name, and
// client version, omitting this user. proto restricts to one packet
// protocol by number; -1 means all but 0; "" means everyone.
func (s *Server) SummarizeVersions(proto string) string {
	if s.State() != StateLoggedIn {
		return s.stateSummary()
	}
	users := s.otherUsers()
	if len(users) == 0 {
		return "No users are connected."
	}
	versions := map[string]map[string]bool{}
	for _, user := range users {
		protocol, hasProto := user.Lookup("packetprotocol")
		switch proto {
		case "":
		case "-1":
			if protocol == "0" {
				continue
			}
		default:
			if protocol != proto {
				continue
			}
		}
		if hasProto {
			protocol = "pp" + protocol
		} else {
			protocol = "pp<unknown>"
		}
		version := strings.TrimSpace(fmt.Sprintf("%s %s %s",
			protocol, user.Get("clientname"), user.Get("version")))
		if versions[version] == nil {
			versions[version] = map[string]bool{}
		}
		versions[version][s.UserDisplayName(user, false, false)] = true
	}
	keys := make([]string, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Strings(keys)
	var lines []string
	nversions, nusers := 0, 0
	for _, version := range keys {
		var people []string
		for p := range versions[version] {
			people = append(people, p)
		}
		sort.Slice(people, func(i, j int) bool {
			return strings.ToLower(people[i]) < strings.ToLower(people[j])
		})
		nusers += len(people)
		if version != "" {
			nversions++
			lines = append(lines, fmt.Sprintf("%6d %s: %s",
				len(people), version, strings.Join(people, ", ")))
		} else {
			lines = append(lines, fmt.Sprintf("%6d without version or clientname: %s",
				len(people), strings.Join(people, ", ")))
		}
	}
	if len(lines) == 0 {
		return "No users matched the filter."
	}
	return fmt.Sprintf("Users %d, versions/clients %d:\n%s",
		nusers, nversions, strings.Join(lines, "\n"))
}

// BanTypeName translates a ban's type code for display.
func BanTypeName(banType string) string {
	switch banType {
	case "2", "3":
		return "IP address"
	case "4", "5":
		return "Username"
	}
	return "Type " + banType
}

// DefaultUserRights is the rights mask applied to new accounts when none
// is given, matching stock server defaults.
const DefaultUserRights = 0x3F607
