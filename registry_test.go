package ttcom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masonasons/TTCom-Fork/tt"
)

func newTestSession(shortname string) *tt.Server {
	return tt.NewServer(shortname+".example.com", 0, shortname, nil, "4.0.0")
}

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestSession("c"))
	r.Add(newTestSession("a"))
	r.Add(newTestSession("b"))
	assert.Equal(t, []string{"c", "a", "b"}, r.Shortnames())
	assert.Equal(t, 3, r.Len())
	require.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("zzz"))
}

func TestRegistryReplaceKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestSession("a"))
	r.Add(newTestSession("b"))
	replacement := newTestSession("a")
	r.Add(replacement)
	assert.Equal(t, []string{"a", "b"}, r.Shortnames())
	assert.Same(t, replacement, r.Get("a"))
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestSession("a"))
	r.Add(newTestSession("b"))
	r.Remove("a")
	assert.Equal(t, []string{"b"}, r.Shortnames())
	assert.Nil(t, r.Get("a"))
	// Removing an absent name is harmless.
	r.Remove("a")
	assert.Equal(t, 1, r.Len())
}

func TestAppOutputSilencing(t *testing.T) {
	a := &App{registry: NewRegistry(), lastTriggers: map[string][]TriggerSpec{}}
	var got []string
	a.Write = func(line string) { got = append(got, line) }

	s := newTestSession("quiet")
	s.Silent = 1
	a.current = "other"
	a.serverOutput(s, "event text", true)
	assert.Empty(t, got)
	// The current server's events show even when silent=1.
	a.current = "quiet"
	a.serverOutput(s, "event text", true)
	require.Len(t, got, 1)
	assert.Equal(t, "[quiet] event text", got[0])

	// silent=2 mutes events unconditionally, but not direct output.
	s.Silent = 2
	a.serverOutput(s, "event text", true)
	require.Len(t, got, 1)
	a.serverOutput(s, "command result", false)
	require.Len(t, got, 2)

	// Errors are never silenced.
	a.serverError(s, "boom")
	require.Len(t, got, 3)
	assert.Equal(t, "[quiet] boom", got[2])
}

func TestAppRunCommandUnknownServer(t *testing.T) {
	a := &App{registry: NewRegistry(), lastTriggers: map[string][]TriggerSpec{}}
	var got []string
	a.Write = func(line string) { got = append(got, line) }
	a.RunCommand("server nosuch kick userid=1")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "No server nosuch")
	a.RunCommand("gibberish")
	require.Len(t, got, 2)
	assert.Contains(t, got[1], "Unsupported command")
}
