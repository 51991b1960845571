package ttcom

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/masonasons/TTCom-Fork/tt"
)

// TriggerSpec is one match or action line from a server's config section.
type TriggerSpec struct {
	// Kind is "match" or "action".
	Kind string
	// Trigger names the match/action set; Name optionally names the
	// entry within it (the part after the dot in `match t1.first`).
	Trigger string
	Name    string
	Value   string
}

// ServerConfig is everything one `[server <name>]` section defines,
// after `[server defaults]` and `include=` expansion.
type ServerConfig struct {
	Shortname string
	Host      string
	TCPPort   int
	AutoLogin int
	Silent    int
	Hidden    bool
	Encrypted bool
	// LoginParms holds every key that isn't a recognized setting.
	LoginParms tt.AttrDict
	Triggers   []TriggerSpec
}

// LoadConfig reads the INI file and returns the configured servers in
// file order. Each server's key/value pairs start with the
// `[server defaults]` section, then its own section; `include=s1,s2`
// lines splice in `[include s1]` sections at that point, so later lines
// override earlier ones. Recursive inclusion is ignored rather than
// looping.
func LoadConfig(path string) ([]ServerConfig, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowShadows: true,
		// Duplicate [server x] sections are a config error, not a merge.
		AllowNonUniqueSections: true,
		IgnoreInlineComment:    true,
	}, path)
	if err != nil {
		return nil, err
	}
	var out []ServerConfig
	seen := map[string]bool{}
	for _, sec := range f.Sections() {
		name := sec.Name()
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "server ") || lower == "server defaults" {
			continue
		}
		shortname := strings.TrimSpace(name[len("server "):])
		if seen[shortname] {
			return nil, fmt.Errorf("server %s defined more than once", shortname)
		}
		seen[shortname] = true

		var pairs [][2]string
		done := map[string]bool{}
		if dfl := findSection(f, "server defaults"); dfl != nil {
			if err := includeItems(&pairs, dfl, f, done); err != nil {
				return nil, err
			}
		}
		if err := includeItems(&pairs, sec, f, done); err != nil {
			return nil, err
		}
		cfg, err := buildServerConfig(shortname, pairs)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func findSection(f *ini.File, name string) *ini.Section {
	for _, sec := range f.Sections() {
		if strings.EqualFold(sec.Name(), name) {
			return sec
		}
	}
	return nil
}

// includeItems collects a section's key/value pairs, splicing in
// `include=` sections in place. done guards against inclusion loops.
func includeItems(pairs *[][2]string, sec *ini.Section, f *ini.File, done map[string]bool) error {
	if done[strings.ToLower(sec.Name())] {
		return nil
	}
	done[strings.ToLower(sec.Name())] = true
	for _, key := range sec.Keys() {
		for _, val := range key.ValueWithShadows() {
			if strings.EqualFold(key.Name(), "include") {
				for _, inc := range strings.Split(val, ",") {
					incName := "include " + strings.TrimSpace(inc)
					incSec := findSection(f, incName)
					if incSec == nil {
						return fmt.Errorf("section [%s] not found (included from [%s])", incName, sec.Name())
					}
					if err := includeItems(pairs, incSec, f, done); err != nil {
						return err
					}
				}
				continue
			}
			*pairs = append(*pairs, [2]string{key.Name(), val})
		}
	}
	return nil
}

// buildServerConfig interprets the collected pairs. Recognized settings
// configure the session; `match`/`action` keys build triggers; anything
// else becomes a login parameter.
func buildServerConfig(shortname string, pairs [][2]string) (ServerConfig, error) {
	cfg := ServerConfig{Shortname: shortname, LoginParms: tt.AttrDict{}}
	for _, kv := range pairs {
		k, v := kv[0], kv[1]
		lk := strings.ToLower(k)
		switch {
		case lk == "host":
			cfg.Host = v
		case lk == "tcpport":
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("server %s: bad tcpport %q", shortname, v)
			}
			cfg.TCPPort = n
		case lk == "autologin":
			cfg.AutoLogin, _ = strconv.Atoi(v)
		case lk == "silent":
			cfg.Silent, _ = strconv.Atoi(v)
		case lk == "hidden":
			n, _ := strconv.Atoi(v)
			cfg.Hidden = n != 0
		case lk == "encrypted":
			switch strings.ToLower(v) {
			case "1", "true":
				cfg.Encrypted = true
			default:
				cfg.Encrypted = false
			}
		case strings.HasPrefix(lk, "match ") || strings.HasPrefix(lk, "action "):
			fields := strings.SplitN(k, " ", 2)
			what := strings.TrimSpace(fields[1])
			triggerName, subname := what, ""
			if i := strings.Index(what, "."); i >= 0 {
				triggerName, subname = what[:i], what[i+1:]
			}
			cfg.Triggers = append(cfg.Triggers, TriggerSpec{
				Kind:    strings.ToLower(fields[0]),
				Trigger: triggerName,
				Name:    subname,
				Value:   v,
			})
		default:
			cfg.LoginParms.Set(lk, v)
		}
	}
	return cfg, nil
}
