package ttcom

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/masonasons/TTCom-Fork/tt"
)

// clientVersion is what login advertises to servers.
const clientVersion = "4.0.0"

const (
	loginSettlePoll = 500 * time.Millisecond
	loginSettleMax  = 10 * time.Second
)

// App wires the registry, the event log, and the configuration into a
// running multi-server client.
type App struct {
	ConfigPath string
	// NoAutoLogins suppresses autoLogin processing entirely (the -n
	// behavior).
	NoAutoLogins bool
	// Write receives all user-facing output; defaults to stdout via the
	// root logger when nil.
	Write func(line string)
	// Speak handles "say" trigger actions; optional.
	Speak func(text string)

	logger   zerolog.Logger
	registry *Registry
	events   *EventLog

	current      string
	lastTriggers map[string][]TriggerSpec
}

// NewApp opens the event log and prepares an empty registry; call
// ReadServers to load the configuration.
func NewApp(configPath string) (*App, error) {
	events, err := OpenEventLog("ttcom.log")
	if err != nil {
		return nil, err
	}
	a := &App{
		ConfigPath:   configPath,
		registry:     NewRegistry(),
		events:       events,
		lastTriggers: map[string][]TriggerSpec{},
	}
	a.logger = log.Logger.With().Str("caller", "app").Logger()
	return a, nil
}

// Registry exposes the server sessions.
func (a *App) Registry() *Registry { return a.registry }

// EventLog exposes the audit log, for global entries.
func (a *App) EventLog() *EventLog { return a.events }

// Current returns the current server's shortname.
func (a *App) Current() string { return a.current }

// SetCurrent switches the current server.
func (a *App) SetCurrent(shortname string) error {
	if a.registry.Get(shortname) == nil {
		return fmt.Errorf("server %s is not in the server list", shortname)
	}
	a.current = shortname
	return nil
}

func (a *App) print(line string) {
	if a.Write != nil {
		a.Write(line)
		return
	}
	fmt.Println(line)
}

// serverOutput is the per-session output callback. Event output honors
// the silent setting: 1 silences unless current, 2 silences always.
func (a *App) serverOutput(s *tt.Server, line string, fromEvent bool) {
	if fromEvent {
		if s.Silent > 1 {
			return
		}
		if s.Silent == 1 && s.Shortname != a.current {
			return
		}
	}
	a.print(fmt.Sprintf("[%s] %s", s.Shortname, line))
}

// serverError is event error output; never silenced.
func (a *App) serverError(s *tt.Server, line string) {
	a.print(fmt.Sprintf("[%s] %s", s.Shortname, line))
}

// RunCommand executes a trigger's command action. Only the
// "server <shortname> <raw line>" form is supported; the raw line is
// sent correlated so responses stay grouped.
func (a *App) RunCommand(cmd string) {
	fields := strings.SplitN(strings.TrimSpace(cmd), " ", 3)
	if len(fields) == 3 && strings.EqualFold(fields[0], "server") {
		s := a.registry.Get(fields[1])
		if s == nil {
			a.print(fmt.Sprintf("No server %s for command %q", fields[1], cmd))
			return
		}
		if _, err := s.SendWithWait(fields[2], false); err != nil {
			a.print(fmt.Sprintf("[%s] Command failed: %s", s.Shortname, err))
		}
		return
	}
	a.print(fmt.Sprintf("Unsupported command %q", cmd))
}

// buildServer makes a fresh session from one config entry.
func (a *App) buildServer(cfg ServerConfig) *tt.Server {
	s := tt.NewServer(cfg.Host, cfg.TCPPort, cfg.Shortname, cfg.LoginParms.Copy(), clientVersion)
	if !a.NoAutoLogins {
		s.AutoLogin = cfg.AutoLogin
	}
	s.Silent = cfg.Silent
	s.Hidden = cfg.Hidden
	s.Encrypted = cfg.Encrypted
	s.OnOutput = a.serverOutput
	s.OnError = a.serverError
	s.Log = a.events
	s.Speak = a.Speak
	s.Triggers = buildTriggers(s, cfg.Triggers, a.RunCommand)
	return s
}

// buildTriggers materializes trigger specs against a session. Bad match
// specs are reported and skipped; the rest of the trigger still loads.
func buildTriggers(s *tt.Server, specs []TriggerSpec, runCommand func(string)) *tt.Triggers {
	trs := tt.NewTriggers(s, runCommand)
	for _, spec := range specs {
		switch spec.Kind {
		case "match":
			pl, err := tt.ParseLineRelaxed(spec.Value)
			if err != nil {
				log.Warn().Str("server", s.Shortname).Str("trigger", spec.Trigger).
					Err(err).Msg("unparsable trigger match")
				continue
			}
			trs.AddMatch(spec.Trigger, pl, spec.Name)
		case "action":
			trs.AddAction(spec.Trigger, spec.Value, spec.Name)
		}
	}
	return trs
}

// ReadServers loads (or reloads) the configuration and applies it to the
// running registry: removed servers stop, connection-identity changes
// replace the session, login-parameter changes relog, and flag changes
// apply in place. logins names servers to log in regardless of their
// autoLogin setting. Blocks up to 10 s for the affected servers to reach
// loggedIn, then reports the laggards.
func (a *App) ReadServers(logins []string) error {
	cfgs, err := LoadConfig(a.ConfigPath)
	if err != nil {
		return err
	}
	inConfig := map[string]bool{}
	for _, cfg := range cfgs {
		inConfig[cfg.Shortname] = true
	}
	removed := false
	for _, shortname := range a.registry.Shortnames() {
		if !inConfig[shortname] {
			a.print("Deleting " + shortname)
			a.registry.Remove(shortname)
			delete(a.lastTriggers, shortname)
			removed = true
		}
	}
	if removed && a.registry.Get(a.current) == nil {
		names := a.registry.Shortnames()
		a.current = ""
		if len(names) > 0 {
			a.current = names[0]
			a.print("Current server is " + a.current)
		} else {
			a.print("No current server")
		}
	}

	var waitFors []*tt.Server
	for _, cfg := range cfgs {
		if a.current == "" {
			a.current = cfg.Shortname
		}
		newServer := a.buildServer(cfg)
		var doLogin *tt.Server
		reconfig := false
		if old := a.registry.Get(cfg.Shortname); old != nil {
			switch {
			case old.Host != newServer.Host ||
				old.TCPPort != newServer.TCPPort ||
				old.Encrypted != newServer.Encrypted:
				a.print("Changing connection information for " + cfg.Shortname)
				a.registry.Add(newServer)
				reconfig = true
				if newServer.AutoLogin != 0 {
					doLogin = newServer
				}
				old = nil
			case !reflect.DeepEqual(old.LoginParms, newServer.LoginParms):
				a.print("Changing login information for " + cfg.Shortname)
				old.Logout()
				old.LoginParms = newServer.LoginParms
				if newServer.AutoLogin != 0 {
					doLogin = old
				}
			case newServer.AutoLogin != 0 && old.AutoLogin == 0 &&
				old.State() != tt.StateLoggedIn:
				doLogin = old
			}
			if old != nil {
				if old.AutoLogin != newServer.AutoLogin && !reconfig {
					a.print(fmt.Sprintf("autoLogin for %s changing to %d", cfg.Shortname, newServer.AutoLogin))
				}
				old.AutoLogin = newServer.AutoLogin
				if old.Silent != newServer.Silent && !reconfig {
					a.print(fmt.Sprintf("silent for %s changing to %d", cfg.Shortname, newServer.Silent))
				}
				old.Silent = newServer.Silent
				old.Hidden = newServer.Hidden
				if !reflect.DeepEqual(a.lastTriggers[cfg.Shortname], cfg.Triggers) && !reconfig {
					a.print("Updating triggers for " + cfg.Shortname)
				}
				// Triggers are bound to their session, so rebuild against
				// the surviving one.
				old.Triggers = buildTriggers(old, cfg.Triggers, a.RunCommand)
			}
		} else {
			a.registry.Add(newServer)
			if newServer.AutoLogin != 0 {
				doLogin = newServer
			}
		}
		a.lastTriggers[cfg.Shortname] = cfg.Triggers
		if doLogin != nil && a.NoAutoLogins {
			doLogin = nil
		}
		if doLogin == nil {
			for _, name := range logins {
				if name == cfg.Shortname {
					doLogin = a.registry.Get(cfg.Shortname)
					break
				}
			}
		}
		if doLogin != nil {
			doLogin.Login(true)
			waitFors = append(waitFors, doLogin)
		}
	}

	if len(waitFors) > 0 {
		deadline := time.Now().Add(loginSettleMax)
		for time.Now().Before(deadline) {
			settled := true
			for _, s := range waitFors {
				if s.State() != tt.StateLoggedIn {
					settled = false
					break
				}
			}
			if settled {
				break
			}
			time.Sleep(loginSettlePoll)
		}
		var unfinished []string
		for _, s := range waitFors {
			if s.State() != tt.StateLoggedIn {
				unfinished = append(unfinished, s.Shortname)
			}
		}
		if len(unfinished) > 0 {
			a.print("Servers that did not connect: " + strings.Join(unfinished, ", "))
		}
	}
	if a.registry.Len() == 0 {
		a.print("Warning: No servers defined. Make sure you have created and filled out the configuration file " + a.ConfigPath)
	}
	return nil
}

// Close stops every session and closes the event log.
func (a *App) Close() error {
	for _, s := range a.registry.All() {
		s.Terminate()
	}
	if a.events != nil {
		a.events.LogGlobalEvent("stopping")
		return a.events.Close()
	}
	return nil
}
