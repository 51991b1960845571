package tt

import (
	"fmt"
	"strconv"
	"strings"
)

// ParmKind is the wire type of one parameter value.
type ParmKind int

const (
	// KindKeyword is a bare word with no value, like the event keyword
	// itself or a flag such as "-m" on a user command line.
	KindKeyword ParmKind = iota
	// KindInt is a signed integer.
	KindInt
	// KindString is a quoted, escape-encoded string.
	KindString
	// KindList is a bracketed comma-separated list of ints.
	KindList
)

// Parm is one name=value parameter of a protocol line.
//
// For KindString, Value holds the decoded user text (real newlines and
// backslashes); Encoded() returns the wire form. For KindInt, Value holds
// the decimal digits. For KindList, List holds the elements and Value is
// empty. For KindKeyword both are empty.
type Parm struct {
	Name  string
	Kind  ParmKind
	Value string
	List  []string
}

func encodeString(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\r", "\\r", "\n", "\\n")
	return r.Replace(s)
}

func decodeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '\\' || i+1 == len(s) {
			b.WriteByte(ch)
			continue
		}
		i++
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case '\\', '"':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Encoded returns the wire form of the value: quoted with escapes for
// strings, bracketed for lists, bare digits for ints.
func (p Parm) Encoded() string {
	switch p.Kind {
	case KindString:
		return "\"" + encodeString(p.Value) + "\""
	case KindList:
		return "[" + strings.Join(p.List, ",") + "]"
	default:
		return p.Value
	}
}

// String renders the parameter as it appears on the wire.
func (p Parm) String() string {
	if p.Kind == KindKeyword {
		return p.Name
	}
	return p.Name + "=" + p.Encoded()
}

// Parms is the ordered parameter collection of one line. Name lookups are
// case-insensitive and honor the chanid/channelid alias.
type Parms []Parm

// Lookup returns the decoded value of the named parameter.
func (ps Parms) Lookup(name string) (string, bool) {
	if p, ok := ps.find(name); ok {
		if p.Kind == KindList {
			return p.Encoded(), true
		}
		return p.Value, true
	}
	return "", false
}

// Get returns the decoded value of the named parameter, or "".
func (ps Parms) Get(name string) string {
	v, _ := ps.Lookup(name)
	return v
}

func (ps Parms) Has(name string) bool {
	_, ok := ps.find(name)
	return ok
}

func (ps Parms) find(name string) (Parm, bool) {
	name = strings.ToLower(name)
	alias := aliasKey(name)
	for _, p := range ps {
		n := strings.ToLower(p.Name)
		if n == name || (alias != "" && n == alias) {
			return p, true
		}
	}
	return Parm{}, false
}

// Set replaces the named parameter or appends it.
func (ps *Parms) Set(p Parm) {
	name := strings.ToLower(p.Name)
	alias := aliasKey(name)
	for i := range *ps {
		n := strings.ToLower((*ps)[i].Name)
		if n == name || (alias != "" && n == alias) {
			(*ps)[i] = p
			return
		}
	}
	*ps = append(*ps, p)
}

// Dict flattens the parameters into an AttrDict of decoded values.
func (ps Parms) Dict() AttrDict {
	d := make(AttrDict, len(ps))
	for _, p := range ps {
		if p.Kind == KindList {
			d.Set(p.Name, p.Encoded())
		} else {
			d.Set(p.Name, p.Value)
		}
	}
	return d
}

// ParmLine is one parsed protocol frame: an event keyword plus ordered
// typed parameters. Raw preserves the inbound text exactly as received,
// when the line came off the wire.
type ParmLine struct {
	Event string
	Parms Parms
	Raw   string
}

// String renders the frame in wire form, without the line ending.
func (l *ParmLine) String() string {
	var b strings.Builder
	b.WriteString(l.Event)
	for _, p := range l.Parms {
		b.WriteByte(' ')
		b.WriteString(p.String())
	}
	return b.String()
}

// Equal reports structural equality of two frames.
func (l *ParmLine) Equal(o *ParmLine) bool {
	if l.Event != o.Event || len(l.Parms) != len(o.Parms) {
		return false
	}
	for i := range l.Parms {
		a, b := l.Parms[i], o.Parms[i]
		if a.Name != b.Name || a.Kind != b.Kind || a.Value != b.Value {
			return false
		}
		if len(a.List) != len(b.List) {
			return false
		}
		for j := range a.List {
			if a.List[j] != b.List[j] {
				return false
			}
		}
	}
	return true
}

type lineParser struct {
	s string
	i int
}

func (lp *lineParser) eof() bool {
	lp.skipSpace()
	return lp.i >= len(lp.s)
}

func (lp *lineParser) skipSpace() {
	for lp.i < len(lp.s) {
		switch lp.s[lp.i] {
		case ' ', '\t', '\r', '\n':
			lp.i++
		default:
			return
		}
	}
}

func isKeywordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKeywordChar(c byte) bool {
	return isKeywordStart(c) || c == '-' || (c >= '0' && c <= '9')
}

// keyword consumes a conforming keyword, or in relaxed mode any run of
// non-whitespace (or a quoted string) when the strict form does not match.
func (lp *lineParser) keyword(relaxed bool) (string, error) {
	if lp.i < len(lp.s) && isKeywordStart(lp.s[lp.i]) {
		start := lp.i
		for lp.i < len(lp.s) && isKeywordChar(lp.s[lp.i]) {
			lp.i++
		}
		return lp.s[start:lp.i], nil
	}
	if !relaxed {
		return "", fmt.Errorf("line not parsable; remaining text: %s", lp.s[lp.i:])
	}
	return lp.stringValue(), nil
}

// stringValue consumes a quoted string (decoding escapes) or a bare token
// up to the next whitespace.
func (lp *lineParser) stringValue() string {
	quoting := false
	if lp.i < len(lp.s) && lp.s[lp.i] == '"' {
		quoting = true
		lp.i++
	}
	var b strings.Builder
	for lp.i < len(lp.s) {
		ch := lp.s[lp.i]
		if ch == '\\' && lp.i+1 < len(lp.s) {
			b.WriteByte(ch)
			b.WriteByte(lp.s[lp.i+1])
			lp.i += 2
			continue
		}
		if quoting {
			if ch == '"' {
				lp.i++
				break
			}
			b.WriteByte(ch)
			lp.i++
			continue
		}
		if ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
			break
		}
		b.WriteByte(ch)
		lp.i++
	}
	return decodeString(b.String())
}

func (lp *lineParser) next(relaxed bool) (Parm, error) {
	kw, err := lp.keyword(relaxed)
	if err != nil {
		return Parm{}, err
	}
	if lp.i >= len(lp.s) || lp.s[lp.i] != '=' {
		return Parm{Name: kw, Kind: KindKeyword}, nil
	}
	lp.i++
	if lp.i >= len(lp.s) {
		return Parm{Name: kw, Kind: KindString}, nil
	}
	switch c := lp.s[lp.i]; {
	case c == '[':
		end := strings.IndexByte(lp.s[lp.i:], ']')
		if end < 0 {
			return Parm{}, fmt.Errorf("unterminated list for %s", kw)
		}
		body := lp.s[lp.i+1 : lp.i+end]
		lp.i += end + 1
		var items []string
		if body != "" {
			items = strings.Split(body, ",")
		}
		return Parm{Name: kw, Kind: KindList, List: items}, nil
	case c == '-' || (c >= '0' && c <= '9'):
		start := lp.i
		lp.i++
		for lp.i < len(lp.s) && lp.s[lp.i] >= '0' && lp.s[lp.i] <= '9' {
			lp.i++
		}
		val := lp.s[start:lp.i]
		terminated := lp.i >= len(lp.s) || lp.s[lp.i] == ' ' ||
			lp.s[lp.i] == '\t' || lp.s[lp.i] == '\r' || lp.s[lp.i] == '\n'
		if _, err := strconv.Atoi(val); err != nil || !terminated {
			// A lone "-", a dotted value like 1.2.3, or similar; treat the
			// whole token as a string.
			lp.i = start
			return Parm{Name: kw, Kind: KindString, Value: lp.stringValue()}, nil
		}
		return Parm{Name: kw, Kind: KindInt, Value: val}, nil
	default:
		return Parm{Name: kw, Kind: KindString, Value: lp.stringValue()}, nil
	}
}

func parse(line string, relaxed bool) (*ParmLine, error) {
	lp := &lineParser{s: line}
	if lp.eof() {
		return nil, fmt.Errorf("empty line")
	}
	first, err := lp.next(relaxed)
	if err != nil {
		return nil, err
	}
	if first.Kind != KindKeyword {
		return nil, fmt.Errorf("no event keyword in line: %s", line)
	}
	pl := &ParmLine{Event: first.Name, Raw: line}
	for !lp.eof() {
		p, err := lp.next(relaxed)
		if err != nil {
			return nil, err
		}
		pl.Parms = append(pl.Parms, p)
	}
	return pl, nil
}

// ParseLine parses one strict protocol line.
func ParseLine(line string) (*ParmLine, error) {
	return parse(line, false)
}

// ParseLineRelaxed parses a line that may contain non-protocol elements
// such as bare flags (-m) and unquoted string values, as typed by users.
func ParseLineRelaxed(line string) (*ParmLine, error) {
	return parse(line, true)
}

// NewLine builds a frame from an event keyword and ready-made parameters.
func NewLine(event string, parms ...Parm) *ParmLine {
	return &ParmLine{Event: event, Parms: parms}
}

// IntParm builds an integer parameter.
func IntParm(name string, v int) Parm {
	return Parm{Name: name, Kind: KindInt, Value: strconv.Itoa(v)}
}

// StringParm builds a string parameter from raw (unencoded) text.
func StringParm(name, raw string) Parm {
	return Parm{Name: name, Kind: KindString, Value: raw}
}

// KeywordParm builds a bare keyword parameter.
func KeywordParm(name string) Parm {
	return Parm{Name: name, Kind: KindKeyword}
}

// ListParm builds a list parameter.
func ListParm(name string, items ...string) Parm {
	return Parm{Name: name, Kind: KindList, List: items}
}
