package tt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	maxCorrelationID = 127
	loginTimeout     = 10 * time.Second
	logoutTimeout    = 10 * time.Second
	idblockTimeout   = 8 * time.Second
	recycleDelay     = 5 * time.Second
	connectRetry     = 10 * time.Second
)

// EventLogger receives every inbound line for the rolling audit log.
type EventLogger interface {
	LogEvent(shortname, line string)
}

// Server is one TT server session: it owns the connection, the login
// state machine, the in-memory model of the server (users, channels,
// files), the request correlator, and the trigger set.
//
// All model mutation happens on the connection's watcher goroutine via
// processLine; external readers take the session lock and tolerate a
// consistent-but-possibly-stale view.
type Server struct {
	Shortname string
	Host      string
	TCPPort   int
	Encrypted bool

	// AutoLogin: 0 none, 1 reconnect unless kicked, 2 always.
	AutoLogin int
	// Silent: 0 normal, 1 silence unless current, 2 silence always.
	// Interpreted by the output callback, not here.
	Silent int
	Hidden bool

	// LoginParms are the parameters for the login command plus the
	// optional channel-join keys consumed after login.
	LoginParms AttrDict

	Triggers *Triggers

	// OnOutput receives user-facing lines. fromEvent marks asynchronous
	// event output (subject to silence rules). OnError output bypasses
	// silencing. Either may be nil.
	OnOutput func(s *Server, line string, fromEvent bool)
	OnError  func(s *Server, line string)
	// Log receives every inbound line before dispatch.
	Log EventLogger
	// Speak is the text-to-speech side effect used by "say" trigger
	// actions; optional.
	Speak func(text string)

	log zerolog.Logger
	now func() time.Time

	mu        sync.RWMutex
	conn      *Conn
	state     State
	Info      AttrDict
	Channels  map[string]AttrDict
	Users     map[string]AttrDict
	Files     map[string]AttrDict
	Me        AttrDict
	LastError string

	manualCM bool

	curID            int
	waitID           int
	collecting       int
	outputCollection []*ParmLine

	evLoggedIn    *flag
	evLoggedOut   *flag
	evIDBlockDone *flag

	handlers map[string]func(line *ParmLine) bool
}

// NewServer builds a session for one server. parms become the login
// parameters; clientname and version are forced, udpport and nickname
// defaulted. Empty shortname falls back to host.
func NewServer(host string, tcpport int, shortname string, parms AttrDict, version string) *Server {
	if tcpport == 0 {
		tcpport = DefaultTCPPort
	}
	if shortname == "" {
		shortname = host
	}
	if parms == nil {
		parms = AttrDict{}
	}
	parms.Set("clientname", "TTCom")
	parms.Set("version", version)
	if !parms.Has("udpport") {
		parms.Set("udpport", strconv.Itoa(tcpport))
	}
	// TT 4.3 servers reject logins with no nickname parameter at all, so
	// force an empty one when none is configured.
	if !parms.Has("nickname") {
		parms.Set("nickname", "")
	}
	s := &Server{
		Shortname:     shortname,
		Host:          host,
		TCPPort:       tcpport,
		LoginParms:    parms,
		now:           time.Now,
		evLoggedIn:    newFlag(),
		evLoggedOut:   newFlag(),
		evIDBlockDone: newFlag(),
	}
	s.log = log.Logger.With().Str("caller", "session").Str("server", shortname).Logger()
	s.registerHandlers()
	s.clear()
	return s
}

// State returns the current connection state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Conn returns the live connection, or nil.
func (s *Server) Conn() *Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Is5 reports whether the connected server speaks the v5 protocol.
func (s *Server) Is5() bool {
	ver := s.Info.Get("version")
	return ver != "" && ver[0] == '5'
}

// clear resets the model on init or disconnect.
func (s *Server) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = nil
	s.waitID = 0
	s.curID = 0
	s.evLoggedIn.Clear()
	s.evLoggedOut.Clear()
	s.state = StateDisconnected
	s.Info = AttrDict{}
	s.Channels = map[string]AttrDict{}
	s.Users = map[string]AttrDict{}
	s.Files = map[string]AttrDict{}
	s.Me = nil
}

// Disconnect drops the connection and clears the model.
func (s *Server) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Disconnect("")
		conn.Terminate()
	}
	s.clear()
}

// Terminate destroys this session permanently.
func (s *Server) Terminate() {
	s.AutoLogin = 0
	s.Disconnect()
}

// Connect establishes the connection if not already up. With retry, it
// keeps trying with a 10 s pause until successful.
func (s *Server) Connect(retry bool) bool {
	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn != nil {
			return !conn.terminated()
		}
		conn = NewConn(s.Shortname, s.Host, s.TCPPort, s.Encrypted, s.processLine)
		s.mu.Lock()
		s.conn = conn
		s.state = StateConnecting
		s.mu.Unlock()
		if err := conn.Connect(); err != nil {
			s.log.Debug().Err(err).Msg("connect failed")
			s.mu.Lock()
			s.state = StateDisconnected
			s.conn = nil
			s.mu.Unlock()
			if retry {
				time.Sleep(connectRetry)
				continue
			}
			return false
		}
		metricConnects.WithLabelValues(s.Shortname).Inc()
		s.setState(StateConnected)
		return true
	}
}

// Login logs into the server. With background true, connection retries
// happen on a separate goroutine and Login returns immediately.
func (s *Server) Login(background bool) bool {
	// A manual login resets the stoppage of autoLogins.
	s.manualCM = false
	if background {
		go s.Login(false)
		return true
	}
	if !s.Connect(true) {
		s.errorFromEvent("Connect failed, login aborted")
		return false
	}
	if s.evLoggedIn.IsSet() {
		return true
	}
	s.setState(StateLoggingIn)
	// Channel-join parameters are not part of the login command; they
	// are consumed after the "ok" event.
	lp := s.LoginParms.Copy()
	for _, k := range []string{"chanid", "channel", "chanpassword"} {
		lp.Delete(k)
	}
	if err := s.Send(loginLine(lp).String()); err != nil {
		s.errorFromEvent("Connection failed during login attempt")
		s.Disconnect()
		return false
	}
	// event_ok and event_error set this flag.
	if !s.evLoggedIn.Wait(loginTimeout) {
		s.errorFromEvent("Login timed out")
		return false
	}
	if s.State() == StateLoginError {
		// event_error already printed the message.
		s.evLoggedIn.Clear()
		s.setState(StateConnected)
		return true
	}
	s.setState(StateLoggedIn)
	return true
}

// loginLine builds a login command with deterministic parameter order.
func loginLine(parms AttrDict) *ParmLine {
	keys := parms.Keys()
	sort.Strings(keys)
	pl := NewLine("login")
	for _, k := range keys {
		pl.Parms = append(pl.Parms, StringParm(k, parms[k]))
	}
	return pl
}

// Logout logs out and waits for completion.
func (s *Server) Logout() bool {
	if !s.evLoggedIn.IsSet() {
		return true
	}
	s.evLoggedOut.Clear()
	s.setState(StateLoggingOut)
	s.SendWithWait("logout", false)
	if !s.evLoggedOut.Wait(logoutTimeout) {
		s.errorFromEvent("Timeout on logging out")
		return false
	}
	if s.evLoggedIn.IsSet() {
		s.errorFromEvent("Timeout on logging out (loggedIn flag still set)")
		return false
	}
	return true
}

// Send transmits one raw command line on the connection.
func (s *Server) Send(line string) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.Send(line)
}

// SendWithWait sends a command with a fresh correlation id and waits for
// its begin/end response block. With collect true, the block's lines are
// returned instead of being dispatched as events.
func (s *Server) SendWithWait(line string, collect bool) ([]*ParmLine, error) {
	s.mu.Lock()
	s.curID++
	if s.curID > maxCorrelationID {
		s.curID = 1
	}
	id := s.curID
	line = strings.TrimRight(line, " \t\r\n")
	line += fmt.Sprintf(" id=%d", id)
	s.evIDBlockDone.Clear()
	if collect {
		s.waitID = id
		s.outputCollection = nil
		s.collecting = 1
	} else {
		s.waitID = id
	}
	s.mu.Unlock()

	if err := s.Send(line); err != nil {
		// Connection failure; break any waiting code so everything can
		// restart.
		s.Disconnect()
		return nil, err
	}
	if !s.evIDBlockDone.Wait(idblockTimeout) {
		s.errorFromEvent(fmt.Sprintf("Timeout on %s command", strings.Fields(line)[0]))
		metricCorrelateTimeouts.WithLabelValues(s.Shortname).Inc()
		s.mu.Lock()
		s.waitID = 0
		s.mu.Unlock()
	}
	if !collect {
		return nil, nil
	}
	s.mu.Lock()
	lines := s.outputCollection
	s.outputCollection = nil
	s.collecting = 0
	s.mu.Unlock()
	return lines, nil
}

// processLine is the connection callback: it runs on the watcher
// goroutine and handles every inbound line.
func (s *Server) processLine(line string) {
	pl, err := ParseLine(line)
	if err != nil {
		s.errorFromEvent(fmt.Sprintf("Invalid line:  %s", strings.TrimRight(line, "\r\n")))
		return
	}
	// When collecting a response, don't dispatch events.
	if s.handleCollection(pl) {
		return
	}
	// Block markers for our own correlated wait bypass the hooks.
	s.mu.RLock()
	waitID := s.waitID
	s.mu.RUnlock()
	isOurBlockMarker := waitID > 0 &&
		(pl.Event == "begin" || pl.Event == "end") &&
		pl.Parms.Get("id") == strconv.Itoa(waitID)
	if !isOurBlockMarker {
		s.hookEvents(pl, false)
		defer s.hookEvents(pl, true)
	}
	// Nothing but letters and underscores may appear in an event name.
	// Protects the dispatch table from rogue transmissions.
	if !validEventName(pl.Event) {
		s.errorFromEvent(fmt.Sprintf("Invalid line:  %s", strings.TrimRight(line, "\r\n")))
		return
	}
	handler, ok := s.handlers[pl.Event]
	if !ok {
		s.errorFromEvent(fmt.Sprintf("Unrecognized line:  %s", strings.TrimRight(line, "\r\n")))
		return
	}
	metricEvents.WithLabelValues(s.Shortname, pl.Event).Inc()
	if !handler(pl) {
		s.outputFromEvent(strings.TrimRight(line, " \t\r\n"))
	}
}

func validEventName(event string) bool {
	if event == "" {
		return false
	}
	for _, r := range event {
		if r != '_' && !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// handleCollection manages response collection for SendWithWait. It owns
// the collecting-state transitions (0 none, 1 awaiting begin, 2 inside
// the block) and eats the relevant begin/end markers. Reports whether the
// line was consumed.
func (s *Server) handleCollection(pl *ParmLine) bool {
	isConnect := pl.Event == "_connected_"
	isDisconnect := pl.Event == "_disconnected_"
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.collecting {
	case 0:
		return false
	case 1:
		if pl.Event == "begin" && pl.Parms.Get("id") == strconv.Itoa(s.waitID) {
			// Start of the atomic response block; eat the marker.
			s.outputCollection = nil
			s.collecting = 2
			s.evIDBlockDone.Clear()
			return true
		}
		if isConnect || isDisconnect {
			s.errorLocked("Output collection aborted by server connection interruption")
			s.collecting = 0
			s.waitID = 0
			s.evIDBlockDone.Set()
		}
		// Something unrelated slipped in between command and response;
		// handle it normally.
		return false
	default: // 2
		if isConnect || isDisconnect {
			s.collecting = 0
			s.waitID = 0
			s.errorLocked("Output collection truncated by server connection interruption")
			s.evIDBlockDone.Set()
			// Let connect/disconnect events through.
			return false
		}
		if pl.Event == "end" && pl.Parms.Get("id") == strconv.Itoa(s.waitID) {
			s.collecting = 0
			s.waitID = 0
			s.evIDBlockDone.Set()
			// Eat the closing marker.
			return true
		}
		s.outputCollection = append(s.outputCollection, pl)
		return true
	}
}

// errorLocked emits error output while s.mu is held.
func (s *Server) errorLocked(line string) {
	if f := s.OnError; f != nil {
		f(s, line)
	}
}

// hookEvents brackets each dispatch: before it, the line goes to the audit
// log; after it, triggers run. List-response rows (useraccount,
// userbanned) never trigger activity.
func (s *Server) hookEvents(pl *ParmLine, afterDispatch bool) {
	if !afterDispatch {
		if s.Log != nil {
			s.Log.LogEvent(s.Shortname, strings.TrimRight(pl.Raw, "\r\n"))
		}
		return
	}
	if pl.Event == "userbanned" || pl.Event == "useraccount" {
		return
	}
	if s.Triggers != nil {
		s.Triggers.Apply(pl)
	}
}

// handleRecycling schedules an automatic re-login when allowed.
func (s *Server) handleRecycling(force bool) {
	if force || (s.AutoLogin != 0 && !s.manualCM) {
		s.outputFromEvent("Reconnecting")
		time.AfterFunc(recycleDelay, func() { s.Login(true) })
	}
}

// output prints a line to the user about this session.
func (s *Server) output(line string, fromEvent bool) {
	if f := s.OnOutput; f != nil {
		f(s, line, fromEvent)
	}
}

func (s *Server) outputFromEvent(line string) {
	s.output(line, true)
}

// errorFromEvent reports event errors; not silenced for quiet servers.
func (s *Server) errorFromEvent(line string) {
	if f := s.OnError; f != nil {
		f(s, line)
		return
	}
	s.output(line, true)
}
