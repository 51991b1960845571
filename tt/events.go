package tt

import (
	"fmt"
	"strings"
)

// registerHandlers builds the event dispatch table. A handler returning
// false means the line should also be printed in the default raw form.
func (s *Server) registerHandlers() {
	s.handlers = map[string]func(*ParmLine) bool{
		"_connected_":    s.evtConnected,
		"_disconnected_": s.evtDisconnected,
		"begin":          s.evtBegin,
		"end":            s.evtEnd,
		"welcome":        s.evtWelcome,
		"ok":             s.evtOK,
		"accepted":       s.evtAccepted,
		"loggedin":       s.evtLoggedIn,
		"loggedout":      s.evtLoggedOut,
		"serverupdate":   s.evtServerUpdate,
		"addchannel":     s.evtAddChannel,
		"updatechannel":  s.evtUpdateChannel,
		"removechannel":  s.evtRemoveChannel,
		"adduser":        s.evtAddUser,
		"updateuser":     s.evtUpdateUser,
		"removeuser":     s.evtRemoveUser,
		"joined":         s.evtJoined,
		"left":           s.evtLeft,
		"addfile":        s.evtAddFile,
		"removefile":     s.evtRemoveFile,
		"messagedeliver": s.evtMessageDeliver,
		"kicked":         s.evtKicked,
		"stats":          s.evtStats,
		"useraccount":    s.evtUserAccount,
		"userbanned":     s.evtUserBanned,
		"pong":           s.evtPong,
		"error":          s.evtError,
	}
}

// userRecord returns the record for userid, creating it if needed, and
// reports whether it already existed.
func (s *Server) userRecord(userid string) (AttrDict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.Users[userid]
	if !ok {
		user = AttrDict{}
		s.Users[userid] = user
	}
	return user, ok
}

func (s *Server) channelRecord(chanid string) AttrDict {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.Channels[chanid]
	if !ok {
		ch = AttrDict{}
		s.Channels[chanid] = ch
	}
	return ch
}

// evtConnected handles the internally generated connect signal. The
// welcome event fires at about the same time.
func (s *Server) evtConnected(pl *ParmLine) bool {
	s.outputFromEvent("Connected")
	return true
}

// evtDisconnected handles the internally generated disconnect signal.
func (s *Server) evtDisconnected(pl *ParmLine) bool {
	buf := "Disconnected"
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil && conn.DisconnectReason != "" {
		buf += " (" + conn.DisconnectReason + ")"
	}
	s.outputFromEvent(buf)
	metricDisconnects.WithLabelValues(s.Shortname).Inc()
	s.clear()
	s.handleRecycling(false)
	return true
}

// evtBegin eats the opening marker of our own correlated response block.
// Blocks being collected never reach here; see handleCollection.
func (s *Server) evtBegin(pl *ParmLine) bool {
	s.mu.RLock()
	waitID := s.waitID
	s.mu.RUnlock()
	return waitID > 0 && pl.Parms.Get("id") == fmt.Sprint(waitID)
}

// evtEnd signals the end of the corresponding command's reply.
func (s *Server) evtEnd(pl *ParmLine) bool {
	s.mu.Lock()
	match := s.waitID > 0 && pl.Parms.Get("id") == fmt.Sprint(s.waitID)
	if match {
		s.waitID = 0
	}
	s.mu.Unlock()
	if match {
		s.evIDBlockDone.Set()
		return true
	}
	return false
}

// evtWelcome records the server info and seeds our own user record.
func (s *Server) evtWelcome(pl *ParmLine) bool {
	s.updateParms("Welcome", s.Info, pl.Parms.Dict(), true, nil)
	userid := s.Info.Get("userid")
	me, _ := s.userRecord(userid)
	s.mu.Lock()
	me.Set("userid", userid)
	s.Me = me
	s.mu.Unlock()
	return true
}

// evtOK completes a login. "ok" is also sent for changenick and other
// commands; those pass through as raw output.
func (s *Server) evtOK(pl *ParmLine) bool {
	if s.State() != StateLoggingIn {
		return false
	}
	s.setState(StateLoggedIn)
	s.outputFromEvent(fmt.Sprintf("Login successful (server version %s)",
		truncVersion(s.Info.Get("version"))))
	s.mu.Lock()
	s.LastError = ""
	s.mu.Unlock()
	s.evLoggedIn.Set()
	s.handleInitChannel()
	return true
}

func truncVersion(v string) string {
	if len(v) > 3 {
		return v[:3]
	}
	return v
}

// handleInitChannel joins the configured channel after login. chanid
// overrides channel, but either is allowed.
func (s *Server) handleInitChannel() {
	chanid := s.LoginParms.Get("chanid")
	channel := s.LoginParms.Get("channel")
	if chanid == "" && channel != "" {
		if channel == "/" {
			chanid = "1"
		} else {
			s.mu.RLock()
			var matches []string
			for id := range s.Channels {
				if channel == s.AdjustedChannelNameLocked(id) {
					matches = append(matches, id)
				}
			}
			s.mu.RUnlock()
			if len(matches) != 1 {
				return
			}
			chanid = matches[0]
		}
	}
	if chanid == "" {
		return
	}
	line := fmt.Sprintf("join chanid=%s", chanid)
	if pw := s.LoginParms.Get("chanpassword"); pw != "" {
		line += " " + StringParm("password", pw).String()
	}
	s.Send(line)
}

// AdjustedChannelNameLocked is ChannelName for callers already holding
// the session lock.
func (s *Server) AdjustedChannelNameLocked(chanid string) string {
	ch, ok := s.Channels[chanid]
	if !ok {
		return fmt.Sprintf("<chanid %s>", chanid)
	}
	return AdjustChannelName(ch.Get("channel"), false)
}

// evtAccepted merges the just-logged-in user's own record. The "ok"
// event, not this one, signals login completion.
func (s *Server) evtAccepted(pl *ParmLine) bool {
	user, _ := s.userRecord(pl.Parms.Get("userid"))
	s.updateParms("Login accepted", user, pl.Parms.Dict(), true, nil)
	s.reportRightsIssues()
	return true
}

// reportRightsIssues warns about user rights values that compromise use
// of this program on a server.
func (s *Server) reportRightsIssues() {
	s.mu.RLock()
	me := s.Me
	s.mu.RUnlock()
	if me == nil || !me.Has("userrights") {
		return
	}
	rights := parseBits(me.Get("userrights"))
	if rights&0x1 == 0 {
		s.errorFromEvent("Warning: Multiple logins disallowed")
	}
	if rights&0x2 == 0 {
		s.errorFromEvent("Warning: Unable to see channel participants")
	}
}

func (s *Server) evtLoggedIn(pl *ParmLine) bool {
	userid := pl.Parms.Get("userid")
	user, _ := s.userRecord(userid)
	s.updateParms("Logged in", user, pl.Parms.Dict(), true, nil)
	if s.State() != StateLoggingIn && user.Get("nickname") != "" {
		s.outputFromEvent(fmt.Sprintf("%s logged in",
			s.userName(userid, false, true)))
	}
	return true
}

// evtLoggedOut handles both forms: with a userid it is another user's
// logout; bare, it is our own.
func (s *Server) evtLoggedOut(pl *ParmLine) bool {
	userid := pl.Parms.Get("userid")
	if userid == "" {
		s.outputFromEvent("You are logged out")
		s.mu.Lock()
		s.state = StateConnected
		s.Channels = map[string]AttrDict{}
		s.Users = map[string]AttrDict{}
		uid := s.Info.Get("userid")
		me := AttrDict{}
		me.Set("userid", uid)
		s.Users[uid] = me
		s.Me = me
		s.mu.Unlock()
		s.evLoggedIn.Clear()
		s.evLoggedOut.Set()
		s.handleRecycling(false)
		return true
	}
	s.mu.Lock()
	user, ok := s.Users[userid]
	delete(s.Users, userid)
	s.mu.Unlock()
	if ok && user.Get("nickname") != "" {
		s.outputFromEvent(fmt.Sprintf("%s logged out",
			s.UserDisplayName(user, false, true)))
	}
	return true
}

// evtServerUpdate is noisy during login, so changes are only reported
// afterward.
func (s *Server) evtServerUpdate(pl *ParmLine) bool {
	s.updateParms("Server update", s.Info, pl.Parms.Dict(), s.State() == StateLoggingIn, nil)
	return true
}

// evtAddChannel fires for creations and during login. Login-time floods
// are silenced.
func (s *Server) evtAddChannel(pl *ParmLine) bool {
	ch := s.channelRecord(pl.Parms.Get("channelid"))
	s.updateParms("Add channel", ch, pl.Parms.Dict(), true, nil)
	if s.State() != StateLoggingIn {
		s.outputFromEvent(fmt.Sprintf("New channel %s", ch.Get("channel")))
	}
	return true
}

func (s *Server) evtRemoveChannel(pl *ParmLine) bool {
	chanid := pl.Parms.Get("channelid")
	s.mu.Lock()
	ch := s.Channels[chanid]
	delete(s.Channels, chanid)
	s.mu.Unlock()
	if ch != nil {
		s.outputFromEvent(fmt.Sprintf("Removed channel %s", ch.Get("channel")))
	}
	return true
}

// evtUpdateChannel replaces the channel record. TT5 omits the full
// channel path here, so it is preserved along with parentid.
func (s *Server) evtUpdateChannel(pl *ParmLine) bool {
	ch := s.channelRecord(pl.Parms.Get("channelid"))
	name := ch.Get("channel")
	s.updateParms(name, ch, pl.Parms.Dict(), false, []string{"parentid", "channel"})
	return true
}

// evtAddUser fires on channel joins and during login. Users unknown here
// come from servers that hide users until you share a channel; those
// records are marked temporary and dropped again on removeuser.
func (s *Server) evtAddUser(pl *ParmLine) bool {
	userid := pl.Parms.Get("userid")
	user, existed := s.userRecord(userid)
	if !existed {
		s.updateParms("Add user to channel", user, pl.Parms.Dict(), true, nil)
		s.mu.Lock()
		user.Set("temporary", "1")
		s.mu.Unlock()
	} else {
		s.updateParms("Add user", user, pl.Parms.Dict(), true, nil)
	}
	if s.State() != StateLoggingIn {
		s.outputFromEvent(fmt.Sprintf("%s joined %s",
			s.userName(userid, false, false),
			s.ChannelName(pl.Parms.Get("channelid"), false)))
	}
	return true
}

func (s *Server) evtRemoveUser(pl *ParmLine) bool {
	userid := pl.Parms.Get("userid")
	s.outputFromEvent(fmt.Sprintf("%s left %s",
		s.userName(userid, false, false),
		s.ChannelName(pl.Parms.Get("channelid"), false)))
	s.mu.Lock()
	if user, ok := s.Users[userid]; ok {
		user.Delete("channelid")
		user.Delete("channel")
		if user.Has("temporary") {
			delete(s.Users, userid)
		}
	}
	s.mu.Unlock()
	return true
}

// evtUpdateUser reports status and other user changes. Unknown users
// (hidden-user servers, pre-existing admin logins) are added silently;
// reporting those tends to include a lot of unhelpful subscription noise.
func (s *Server) evtUpdateUser(pl *ParmLine) bool {
	userid := pl.Parms.Get("userid")
	user, existed := s.userRecord(userid)
	if !existed {
		s.updateParms("Add user to server", user, pl.Parms.Dict(), true, nil)
		s.mu.Lock()
		user.Set("temporary", "1")
		s.mu.Unlock()
		return true
	}
	name := s.userName(userid, false, false)
	s.updateParms(name, user, pl.Parms.Dict(), false, nil)
	return true
}

func (s *Server) evtJoined(pl *ParmLine) bool {
	s.outputFromEvent(fmt.Sprintf("Joined %s",
		s.ChannelName(pl.Parms.Get("channelid"), false)))
	return true
}

func (s *Server) evtLeft(pl *ParmLine) bool {
	s.outputFromEvent(fmt.Sprintf("Left channel %s",
		s.ChannelName(pl.Parms.Get("channelid"), false)))
	return true
}

func fileKey(pl *ParmLine) string {
	return pl.Parms.Get("chanid") + ":" + pl.Parms.Get("filename")
}

func (s *Server) evtAddFile(pl *ParmLine) bool {
	fid := fileKey(pl)
	s.mu.Lock()
	f, ok := s.Files[fid]
	if !ok {
		f = AttrDict{}
		s.Files[fid] = f
	}
	s.mu.Unlock()
	s.updateParms("Add file", f, pl.Parms.Dict(), true, nil)
	if s.State() == StateLoggingIn {
		return true
	}
	s.outputFromEvent(fmt.Sprintf("%s sent to %s file %s (id %s)",
		pl.Parms.Get("owner"),
		s.ChannelName(pl.Parms.Get("chanid"), false),
		pl.Parms.Get("filename"),
		pl.Parms.Get("fileid")))
	return true
}

func (s *Server) evtRemoveFile(pl *ParmLine) bool {
	fid := fileKey(pl)
	s.outputFromEvent(fmt.Sprintf("File %s removed from channel %s",
		pl.Parms.Get("filename"),
		s.ChannelName(pl.Parms.Get("chanid"), false)))
	s.mu.Lock()
	delete(s.Files, fid)
	s.mu.Unlock()
	return true
}

func (s *Server) evtMessageDeliver(pl *ParmLine) bool {
	if msg := s.FormattedMessage(pl); msg != "" {
		s.outputFromEvent(msg)
	}
	return true
}

// evtKicked stops autoLogin reconnects unless autoLogin is 2. Kicks by
// another instance of the same account occur on servers that forbid
// simultaneous logins.
func (s *Server) evtKicked(pl *ParmLine) bool {
	kicker := s.userName(pl.Parms.Get("kickerid"), false, false)
	s.outputFromEvent(fmt.Sprintf("%s has kicked you from the server", kicker))
	s.manualCM = s.AutoLogin != 2
	return true
}

// evtStats answers a querystats command; admin only on the server side.
func (s *Server) evtStats(pl *ParmLine) bool {
	buf := []string{"Server statistics:"}
	for _, p := range pl.Parms {
		buf = append(buf, fmt.Sprintf("    %s: %s", p.Name, p.Value))
	}
	s.outputFromEvent(strings.Join(buf, "\n"))
	return true
}

// evtUserAccount is one row of a listaccounts response.
func (s *Server) evtUserAccount(pl *ParmLine) bool {
	s.outputFromEvent(pl.String())
	return true
}

// evtUserBanned is one row of a listbans response.
func (s *Server) evtUserBanned(pl *ParmLine) bool {
	s.outputFromEvent(pl.String())
	return true
}

// evtPong only fires for user-sent pings; keep-alive pongs are eaten by
// the connection watcher.
func (s *Server) evtPong(pl *ParmLine) bool {
	return false
}

// evtError records the last error and fails an in-progress login.
func (s *Server) evtError(pl *ParmLine) bool {
	msg := fmt.Sprintf("Error %s: %s", pl.Parms.Get("number"), pl.Parms.Get("message"))
	for _, p := range pl.Parms {
		switch strings.ToLower(p.Name) {
		case "number", "message":
			continue
		}
		msg += fmt.Sprintf(", %s=%s", p.Name, p.Value)
	}
	s.outputFromEvent("*** " + msg)
	if !s.evLoggedIn.IsSet() {
		s.mu.Lock()
		s.LastError = msg
		s.mu.Unlock()
	}
	if s.State() == StateLoggingIn {
		s.setState(StateLoginError)
		s.evLoggedIn.Set()
	}
	return true
}
