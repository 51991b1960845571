package tt

import "strings"

// AttrDict stores the fields of one tracked entity (a user, channel, file
// or the server info block). Keys are case-insensitive, and "chanid" and
// "channelid" are the same field: whichever spelling was stored first is
// the canonical key, and the other spelling reads and writes through it.
type AttrDict map[string]string

func aliasKey(k string) string {
	switch k {
	case "chanid":
		return "channelid"
	case "channelid":
		return "chanid"
	}
	return ""
}

// canonical resolves k to the key actually stored, honoring the
// chanid/channelid alias. Returns the lowercased key when nothing is
// stored under either spelling.
func (d AttrDict) canonical(k string) string {
	k = strings.ToLower(k)
	if _, ok := d[k]; ok {
		return k
	}
	if alias := aliasKey(k); alias != "" {
		if _, ok := d[alias]; ok {
			return alias
		}
	}
	return k
}

// Get returns the value for k, or "" when absent.
func (d AttrDict) Get(k string) string {
	v, _ := d.Lookup(k)
	return v
}

// Lookup returns the value for k and whether it was present.
func (d AttrDict) Lookup(k string) (string, bool) {
	if d == nil {
		return "", false
	}
	v, ok := d[d.canonical(k)]
	return v, ok
}

func (d AttrDict) Has(k string) bool {
	_, ok := d.Lookup(k)
	return ok
}

// Set stores v under k. Only one of chanid/channelid is ever stored.
func (d AttrDict) Set(k, v string) {
	d[d.canonical(k)] = v
}

// Delete removes k (or its alias) if present.
func (d AttrDict) Delete(k string) {
	delete(d, d.canonical(k))
}

// Copy returns a shallow copy.
func (d AttrDict) Copy() AttrDict {
	out := make(AttrDict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Keys returns the stored (canonical) key set in no particular order.
func (d AttrDict) Keys() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	return out
}
