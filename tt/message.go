package tt

import (
	"fmt"
	"strings"
)

// FormattedMessage renders an incoming messagedeliver event for printing
// or speaking. Supports user, channel, and broadcast messages, message
// intercepts, and typing indicators.
func (s *Server) FormattedMessage(pl *ParmLine) string {
	content := strings.ReplaceAll(pl.Parms.Get("content"), `\r\n`, "\r\n")
	src := pl.Parms.Get("srcuserid")
	dest := pl.Parms.Get("destuserid")
	s.mu.RLock()
	me := s.Me
	s.mu.RUnlock()
	switch pl.Parms.Get("type") {
	case "1":
		// User message. destuserid differs from us only on an intercept.
		if me != nil && dest == me.Get("userid") {
			return fmt.Sprintf("User message from %s:\n%s",
				s.userName(src, false, false), content)
		}
		return fmt.Sprintf("User message from %s to %s:\n%s",
			s.userName(src, false, false), s.userName(dest, false, false), content)
	case "2":
		// Channel message; the channel is only named for intercepts since
		// a user can't be in more than one channel at once.
		if me != nil && me.Get("channelid") != "" &&
			pl.Parms.Get("channelid") == me.Get("channelid") {
			return fmt.Sprintf("Channel message from %s:\n%s",
				s.userName(src, false, false), content)
		}
		return fmt.Sprintf("Channel message from %s to %s:\n%s",
			s.userName(src, false, false), pl.Parms.Get("channel"), content)
	case "3":
		return fmt.Sprintf("*** Broadcast message from %s:\n%s",
			s.userName(src, false, false), content)
	case "4":
		// Typing start/stop indicator (TT 4.3+ non-Classic). Content is
		// "typing\r\n1" or "typing\r\n0".
		content = strings.ReplaceAll(content, "\r\n", " ")
		if me != nil && dest == me.Get("userid") {
			return fmt.Sprintf("User %s %s", s.userName(src, false, false), content)
		}
		return fmt.Sprintf("User %s %s to %s",
			s.userName(src, false, false), content, s.userName(dest, false, false))
	}
	// Unknown message type; dump everything.
	var kv []string
	for _, p := range pl.Parms {
		kv = append(kv, p.Name+"="+p.Value)
	}
	return "messagedeliver " + strings.Join(kv, " ")
}
