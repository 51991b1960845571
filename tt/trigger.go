package tt

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// actionQueueDepth bounds how many pending trigger actions can back up
// before new ones are dropped with an error.
const actionQueueDepth = 128

var subRE = regexp.MustCompile(`%\((\S+?)\)`)

type namedSpec struct {
	name string
	// For matches, line is the match spec where the event and parameter
	// values are regexps; for actions, value is the command text.
	line  *ParmLine
	value string
}

// Trigger is one named match/action set. Any of its matches firing runs
// all of its actions, in order.
type Trigger struct {
	parent  *Triggers
	name    string
	matches []namedSpec
	actions []namedSpec
}

// Triggers is the ordered trigger set of one server. Matching runs
// synchronously on the event path; actions run on their own goroutine so
// a correlated send inside an action cannot stall event handling.
type Triggers struct {
	server *Server
	// RunCommand executes a user-level command line, as if typed.
	RunCommand func(cmd string)

	mu    sync.Mutex
	order []string
	byName map[string]*Trigger

	startOnce sync.Once
	queue     chan queuedAction
	limiter   *rate.Limiter
}

type queuedAction struct {
	trigger *Trigger
	action  namedSpec
	line    *ParmLine
}

// NewTriggers builds the trigger set for a server. runCommand handles
// plain command actions and may be nil.
func NewTriggers(server *Server, runCommand func(cmd string)) *Triggers {
	return &Triggers{
		server:     server,
		RunCommand: runCommand,
		byName:     map[string]*Trigger{},
		// Runaway trigger loops (a trigger answering its own output) are
		// throttled rather than diagnosed.
		limiter: rate.NewLimiter(rate.Limit(2), 5),
	}
}

// get returns the named trigger, creating it on first use.
func (t *Triggers) get(name string) *Trigger {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.byName[name]
	if !ok {
		tr = &Trigger{parent: t, name: name}
		t.byName[name] = tr
		t.order = append(t.order, name)
	}
	return tr
}

// AddMatch adds one match to the named trigger. matchSpec is a ParmLine
// whose event and parameter values are regexps. An empty matchName gets a
// positional default; an exact name match replaces the earlier spec.
func (t *Triggers) AddMatch(triggerName string, matchSpec *ParmLine, matchName string) {
	tr := t.get(triggerName)
	t.mu.Lock()
	defer t.mu.Unlock()
	if matchName == "" {
		matchName = fmt.Sprintf("(match%03d)", len(tr.matches)+1)
	}
	for i := range tr.matches {
		if tr.matches[i].name == matchName {
			tr.matches[i].line = matchSpec
			return
		}
	}
	tr.matches = append(tr.matches, namedSpec{name: matchName, line: matchSpec})
}

// AddAction adds one action to the named trigger, with the same naming
// and replacement rules as AddMatch.
func (t *Triggers) AddAction(triggerName, actionSpec, actionName string) {
	tr := t.get(triggerName)
	t.mu.Lock()
	defer t.mu.Unlock()
	if actionName == "" {
		actionName = fmt.Sprintf("(action%03d)", len(tr.actions)+1)
	}
	for i := range tr.actions {
		if tr.actions[i].name == actionName {
			tr.actions[i].value = actionSpec
			return
		}
	}
	tr.actions = append(tr.actions, namedSpec{name: actionName, value: actionSpec})
}

// Empty reports whether no triggers are defined.
func (t *Triggers) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order) == 0
}

// Apply checks every trigger against the event, in definition order. All
// matching triggers fire.
func (t *Triggers) Apply(pl *ParmLine) {
	t.mu.Lock()
	trs := make([]*Trigger, 0, len(t.order))
	for _, name := range t.order {
		trs = append(trs, t.byName[name])
	}
	t.mu.Unlock()
	for _, tr := range trs {
		tr.apply(pl)
	}
}

// apply fires the trigger's actions if any match hits. Reports whether
// the trigger fired.
func (tr *Trigger) apply(pl *ParmLine) bool {
	t := tr.parent
	for _, match := range tr.matches {
		if !tr.isMatch(match, pl) {
			continue
		}
		uinfo := ""
		if uid := pl.Parms.Get("userid"); uid != "" {
			uinfo = fmt.Sprintf(" (userid %s)", uid)
		}
		// errorFromEvent rather than outputFromEvent so firings show even
		// on silenced servers.
		t.server.errorFromEvent(fmt.Sprintf("%s triggers %s %s%s",
			pl.Event, tr.name, match.name, uinfo))
		metricTriggerFires.WithLabelValues(t.server.Shortname, tr.name).Inc()
		for _, action := range tr.actions {
			t.enqueue(queuedAction{trigger: tr, action: action, line: pl})
		}
		return true
	}
	return false
}

// matchRegexp anchors and case-desensitizes a configured pattern; the
// whole value must match.
func matchRegexp(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)^(?:` + pattern + `)$`)
}

// isMatch evaluates one match spec against an event line. The spec's
// event and parameter values are regexps. Two special forms exist:
// `line match=<re>` matches the entire raw line, and an `address` key
// matches any *addr parameter with address logic instead of regexps.
func (tr *Trigger) isMatch(match namedSpec, pl *ParmLine) bool {
	m := match.line
	if m == nil {
		return false
	}
	if strings.EqualFold(m.Event, "line") && m.Parms.Get("match") != "" {
		re, err := matchRegexp(m.Parms.Get("match"))
		if err != nil {
			tr.parent.failure(err)
			return false
		}
		raw := strings.TrimRight(pl.Raw, "\r\n")
		if raw == "" {
			raw = pl.String()
		}
		return re.MatchString(raw)
	}
	re, err := matchRegexp(m.Event)
	if err != nil {
		tr.parent.failure(err)
		return false
	}
	if !re.MatchString(pl.Event) {
		return false
	}
	for _, mp := range m.Parms {
		pattern := mp.Value
		if strings.EqualFold(mp.Name, "address") {
			matched := false
			for _, ep := range pl.Parms {
				if !strings.HasSuffix(strings.ToLower(ep.Name), "addr") {
					continue
				}
				if matchAddress(pattern, ep.Value) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}
		val, ok := pl.Parms.Lookup(mp.Name)
		if !ok {
			return false
		}
		pre, err := matchRegexp(pattern)
		if err != nil {
			tr.parent.failure(err)
			return false
		}
		if !pre.MatchString(val) {
			return false
		}
	}
	return true
}

var (
	bracketAddrRE = regexp.MustCompile(`^\[(.*?)\]`)
	v4MappedRE    = regexp.MustCompile(`(?i)^::ffff:`)
	trailPortRE   = regexp.MustCompile(`:\d+$`)
)

// matchAddress reports whether addr matches matchval, a full address or
// the first part of one. IPv4 and IPv6 forms of the same address match
// unless matchval itself starts with ":".
func matchAddress(matchval, addr string) bool {
	// UDP address values often carry brackets and a port.
	if strings.Contains(addr, "[") && strings.Contains(addr, "]") {
		if m := bracketAddrRE.FindStringSubmatch(addr); m != nil {
			addr = m[1]
		}
	}
	if !strings.HasPrefix(matchval, ":") {
		addr = v4MappedRE.ReplaceAllString(addr, "")
	}
	addr = trailPortRE.ReplaceAllString(addr, "")
	// A dot after a partial address avoids partial number matches.
	if len(strings.Split(matchval, ".")) < 4 {
		matchval += "."
	}
	return strings.HasPrefix(addr, matchval)
}

// enqueue hands an action to the worker goroutine, starting it on first
// use.
func (t *Triggers) enqueue(qa queuedAction) {
	t.startOnce.Do(func() {
		t.queue = make(chan queuedAction, actionQueueDepth)
		go t.queueWatch()
	})
	select {
	case t.queue <- qa:
	default:
		t.failure(fmt.Errorf("action queue full, dropping %s action", qa.trigger.name))
	}
}

// queueWatch runs trigger actions away from the event path, throttled.
func (t *Triggers) queueWatch() {
	for qa := range t.queue {
		t.limiter.Wait(context.Background())
		if err := t.doAction(qa); err != nil {
			t.failure(err)
		}
	}
}

func (t *Triggers) failure(err error) {
	t.server.errorFromEvent(fmt.Sprintf("Trigger failure: %s", err))
}

// doAction performs one action after %(name) substitution. "send" and
// "sendwithwait" go straight to this server; "say" is spoken; anything
// else runs through the command processor, aimed at this server.
func (t *Triggers) doAction(qa queuedAction) error {
	a, err := substituteParms(qa.action.value, qa.line.Parms)
	if err != nil {
		return err
	}
	lower := strings.ToLower(a)
	switch {
	case strings.HasPrefix(lower, "send "):
		return t.server.Send(strings.TrimSpace(a[len("send "):]))
	case strings.HasPrefix(lower, "sendwithwait "):
		_, err := t.server.SendWithWait(strings.TrimSpace(a[len("sendwithwait "):]), false)
		return err
	case strings.HasPrefix(lower, "say "):
		if t.server.Speak != nil {
			t.server.Speak(strings.TrimSpace(a[len("say "):]))
		}
		return nil
	}
	if t.RunCommand == nil {
		return fmt.Errorf("no command processor for action %q", a)
	}
	t.RunCommand(fmt.Sprintf("server %s %s", t.server.Shortname, a))
	return nil
}

// substituteParms expands %(name) to name="value" and %(!name) to the
// bare value, from the matched event's parameters. A name the event does
// not carry is a hard failure; the action does not run.
func substituteParms(a string, parms Parms) (string, error) {
	var firstErr error
	out := subRE.ReplaceAllStringFunc(a, func(tok string) string {
		k := subRE.FindStringSubmatch(tok)[1]
		bare := false
		if strings.HasPrefix(k, "!") {
			bare = true
			k = k[1:]
		}
		val, ok := parms.Lookup(k)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("no %s parameter in event", k)
			}
			return tok
		}
		if bare {
			return val
		}
		return fmt.Sprintf("%s=\"%s\"", k, encodeString(val))
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
