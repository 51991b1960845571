package tt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// subBitNames returns the long subscription bit names for sublocal and
// subpeer, lsb first. The "notUsed" slot at bit 3 of the v5 table is
// documented but unused; it stays so bit positions are stable.
func (s *Server) subBitNames() []string {
	if s.Is5() {
		return []string{
			"user messages", "channel messages",
			"broadcast messages", "notUsed",
			"audio", "video",
			"desktop", "desktopAccess",
			"stream",
		}
	}
	return []string{
		"user messages", "channel messages",
		"broadcast messages",
		"audio", "video",
		"desktop", "desktopAccess",
	}
}

// Short bit letters for subscription diffs. Lower case are
// subscriptions, upper case are intercepts.
var (
	subLetters5 = []string{
		"u", "c", "b", "0", "a", "v", "d", "x", "s", "1", "2", "3", "4", "5", "6", "7",
		"U", "C", "B", "00", "A", "V", "D", "X", "S", "11", "22", "33", "44", "55", "66", "77",
	}
	subLetters4 = []string{
		"u", "c", "b", "a", "v", "d", "x", "s",
		"U", "C", "B", "A", "V", "D", "X", "S",
	}
)

// updateParms merges incoming over record and reports field-level changes
// as appropriate. With preserve non-empty, record fields not named in
// preserve or incoming are dropped first (replace semantics). Channel
// paths are recomputed when name or parentid changed, and status changes
// are stamped with statustime.
func (s *Server) updateParms(category string, record, incoming AttrDict, silent bool, preserve []string) {
	s.mu.Lock()
	old := record.Copy()
	if len(preserve) > 0 {
		for k := range record {
			delete(record, k)
		}
		for _, k := range preserve {
			if v, ok := old.Lookup(k); ok {
				record.Set(k, v)
			}
		}
	}
	for k, v := range incoming {
		record.Set(k, v)
	}
	// Channel records carry their full path; recompute it when the name
	// or the parent changed.
	if (incoming.Has("parentid") && old.Has("chanid")) || incoming.Has("name") {
		s.updateChannelPathLocked(record)
	}
	if (incoming.Has("statusmode") || incoming.Has("statusmsg")) && !record.Has("statustime") {
		record.Set("statustime", strconv.FormatInt(s.now().Unix(), 10))
	}
	s.mu.Unlock()
	if silent {
		return
	}

	keys := map[string]bool{}
	for k := range old {
		keys[k] = true
	}
	for k := range record {
		keys[k] = true
	}
	all := make([]string, 0, len(keys))
	for k := range keys {
		all = append(all, k)
	}
	sort.Strings(all)

	var buf []string
	statusDone := false
	for _, k := range all {
		if k == "statustime" {
			continue
		}
		v1 := old.Get(k)
		v2 := record.Get(k)
		switch k {
		case "statusmsg", "statusmode":
			if v1 == v2 {
				continue
			}
			if !statusDone {
				s.doStatus(&buf, record, old)
			}
			statusDone = true
			continue
		case "sublocal", "subpeer":
			if v1 == v2 {
				continue
			}
			buf = append(buf, s.subscriptionDiff(k, v1, v2))
			continue
		case "udpaddr":
			// UDP ports change constantly; compare addresses only, and
			// treat the null addresses as empty.
			v1, v2 = stripPort(v1), stripPort(v2)
			if v1 == "[::]" || v1 == "0.0.0.0" {
				v1 = ""
			}
			if v2 == "[::]" || v2 == "0.0.0.0" {
				v2 = ""
			}
		}
		switch {
		case v1 == v2:
			continue
		case v1 != "" && v2 == "":
			buf = append(buf, fmt.Sprintf("%s cleared", k))
		case v2 != "" && v1 == "":
			buf = append(buf, fmt.Sprintf("%s \"%s\"", k, v2))
		default:
			if strings.HasPrefix(v1, "[") && strings.HasPrefix(v2, "[") {
				if items := diffLists(k, v1, v2); items != nil {
					buf = append(buf, items...)
					continue
				}
			}
			includeUpdate(&buf, k, v1, v2)
		}
	}
	if len(buf) == 0 {
		return
	}
	line := strings.Join(buf, ", ")
	if category != "" {
		line = fmt.Sprintf("%s: %s", category, line)
	}
	s.outputFromEvent(line)
}

// updateChannelPathLocked recomputes chan.channel from the name/parentid
// chain. TT5 updatechannel events do not include the channel property.
// Caller holds s.mu.
func (s *Server) updateChannelPathLocked(chanRec AttrDict) {
	path := "/"
	c := chanRec
	for {
		pid := c.Get("parentid")
		if pid == "" || pid == "0" {
			break
		}
		path = "/" + c.Get("name") + path
		parent, ok := s.Channels[pid]
		if !ok {
			break
		}
		c = parent
	}
	chanRec.Set("channel", path)
}

// stripPort removes a trailing :port from an address value.
func stripPort(v string) string {
	if i := strings.LastIndex(v, ":"); i >= 0 {
		return v[:i]
	}
	return v
}

// diffLists diffs bracketed list values element-wise when lengths match;
// returns nil to fall back to whole-value reporting.
func diffLists(k, v1, v2 string) []string {
	l1 := strings.Split(strings.Trim(v1, "[]"), ",")
	l2 := strings.Split(strings.Trim(v2, "[]"), ",")
	if len(l1) != len(l2) {
		return nil
	}
	var out []string
	for i := range l1 {
		if l1[i] != l2[i] {
			includeUpdate(&out, fmt.Sprintf("%s[%d]", k, i+1), l1[i], l2[i])
		}
	}
	return out
}

// includeUpdate renders one changed field. The old nickname was already
// printed as the category, so nickname changes omit it.
func includeUpdate(buf *[]string, name, v1, v2 string) {
	if v1 == v2 {
		return
	}
	if name == "nickname" {
		*buf = append(*buf, fmt.Sprintf("%s changed to \"%s\"", name, v2))
		return
	}
	*buf = append(*buf, fmt.Sprintf("%s changed from \"%s\" to \"%s\"", name, v1, v2))
}

// subscriptionDiff renders sublocal/subpeer changes as ±letter tokens.
func (s *Server) subscriptionDiff(k, v1, v2 string) string {
	letters := subLetters4
	if s.Is5() {
		letters = subLetters5
	}
	label := "remote subscription changes"
	if k == "sublocal" {
		label = "local subscription changes"
	}
	o := parseBits(v1)
	n := parseBits(v2)
	var toks []string
	for b := 0; b < len(letters); b++ {
		mask := uint64(1) << uint(b)
		if o&mask == n&mask {
			continue
		}
		sign := "-"
		if n&mask != 0 {
			sign = "+"
		}
		toks = append(toks, sign+letters[b])
	}
	return fmt.Sprintf("%s: %s", label, strings.Join(toks, " "))
}

func parseBits(v string) uint64 {
	if v == "" {
		return 0
	}
	n, _ := strconv.ParseUint(v, 10, 64)
	return n
}

// Status bit groups of statusmode.
const (
	statusBitsIdle      = 3
	statusBitsGender    = 256
	statusBitsVideo     = 512
	statusBitsStreaming = 2048
)

// doStatus reports user status changes intelligently: only changed flag
// groups, the message when present, and the time since the last change.
func (s *Server) doStatus(buf *[]string, parms, oldParms AttrDict) {
	oldstat := int(parseBits(oldParms.Get("statusmode")))
	newstat := int(parseBits(parms.Get("statusmode")))
	var changes []string
	bitsleft := 0xFFFFFFFF
	changes = append(changes, doFlagBits(oldstat, newstat, statusBitsIdle,
		[]string{"active", "idle", "question", "stat3"})...)
	bitsleft ^= statusBitsIdle
	changes = append(changes, doFlagBits(oldstat, newstat, statusBitsGender,
		[]string{"male", "female"})...)
	bitsleft ^= statusBitsGender
	changes = append(changes, doFlagBits(oldstat, newstat, statusBitsVideo,
		[]string{"disabled video", "enabled video"})...)
	bitsleft ^= statusBitsVideo
	changes = append(changes, doFlagBits(oldstat, newstat, statusBitsStreaming,
		[]string{"stopped streaming", "started streaming"})...)
	bitsleft ^= statusBitsStreaming
	changes = append(changes, doFlagBits(oldstat, newstat, bitsleft, nil)...)

	line := strings.Join(changes, ", ")
	msg := parms.Get("statusmsg")
	oldmsg := oldParms.Get("statusmsg")
	switch {
	case msg != "":
		if line != "" {
			line += fmt.Sprintf(" (message \"%s\")", msg)
		} else {
			line = fmt.Sprintf("message \"%s\"", msg)
		}
	case oldmsg != "":
		if line != "" {
			line += ", message cleared"
		} else {
			line = "message cleared"
		}
	}
	if line == "" {
		return
	}
	// Include the time since the last status change, for non-zero times.
	statusTime := s.now().Unix()
	var after string
	if prev, ok := parms.Lookup("statustime"); ok {
		prevSecs, _ := strconv.ParseInt(prev, 10, 64)
		d := secsToTime(statusTime - prevSecs)
		if strings.Trim(d, "0:") != "" {
			after = " after " + d
		}
	}
	parms.Set("statustime", strconv.FormatInt(statusTime, 10))
	*buf = append(*buf, fmt.Sprintf("status %s%s", line, after))
}

// secsToTime renders a duration in seconds as hh:mm:ss; hours may exceed
// 24.
func secsToTime(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	mm, ss := secs/60, secs%60
	hh, mm := mm/60, mm%60
	return fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss)
}

// defaultBitName names an unnamed bit by its 1-based position.
func defaultBitName(i int, on bool) string {
	if on {
		return fmt.Sprintf("on%d", i+1)
	}
	return fmt.Sprintf("off%d", i+1)
}

// doFlagBits reports what changed between oldval and newval within the
// given bit mask. When names holds one entry per bit combination of the
// mask, the bits are named as a unit (the entry for the new value is
// reported); otherwise bits are reported individually as on/off.
func doFlagBits(oldval, newval, bits int, names []string) []string {
	var changes []string
	if bits == 0 {
		bits = 0xFFFFFFFF
	}
	mask, o, n, cnt := collectBits(bits, oldval, newval)
	if len(names) == mask+1 {
		// Bits named as a unit.
		if o != n {
			changes = append(changes, names[n])
		}
		return changes
	}
	for i := 0; i < cnt; i++ {
		ob, nb := o&1, n&1
		switch {
		case nb != 0 && ob == 0:
			if i < len(names) {
				changes = append(changes, names[i])
			} else {
				changes = append(changes, defaultBitName(i, true))
			}
		case ob != 0 && nb == 0:
			if i >= len(names) {
				changes = append(changes, defaultBitName(i, false))
			}
			// A named bit turning off reports nothing; only the default
			// naming has an off form.
		}
		o >>= 1
		n >>= 1
	}
	return changes
}

// collectBits compacts the masked bits of oldval and newval to the LSB
// end. The returned mask doubles as the count of bit combinations minus
// one; cnt is the number of bits in use.
func collectBits(bits0, oldval0, newval0 int) (bits, oldval, newval, cnt int) {
	newbit := 1
	for bits0 != 0 {
		if bits0&1 != 0 {
			bits |= newbit
			if oldval0&1 != 0 {
				oldval |= newbit
			}
			if newval0&1 != 0 {
				newval |= newbit
			}
			newbit <<= 1
			cnt++
		}
		bits0 >>= 1
		oldval0 >>= 1
		newval0 >>= 1
	}
	return bits, oldval, newval, cnt
}
