package tt

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTCPPort is the port TT servers listen on unless configured
// otherwise.
const DefaultTCPPort = 10333

const (
	connectTimeout = 10 * time.Second
	welcomeTimeout = 20 * time.Second
)

// Conn owns one TCP (optionally TLS) connection to a server. It performs
// line framing and delivers three kinds of event to its callback: a
// synthetic `_connected_ ipaddr="…" tcpport=N` line, every inbound line
// verbatim, and a synthetic `_disconnected_` line. After the welcome
// handshake it manages keep-alive pinging on its own.
//
// A Conn is single-use: once disconnected it must be abandoned and a new
// one made for any further connection to the server.
type Conn struct {
	shortname string
	host      string
	port      int
	encrypted bool
	callback  func(line string)
	log       zerolog.Logger

	writeMu sync.Mutex
	sock    net.Conn
	reader  *bufio.Reader

	stateMu      sync.Mutex
	shuttingDown bool
	disconnected bool

	// Populated from the welcome line by Connect.
	WelcomeParms     Parms
	UserID           string
	UserTimeout      float64
	Protocol         string
	DisconnectReason string
}

// NewConn prepares a connection object; Connect must be called to use it.
// callback receives all events and must not be nil.
func NewConn(shortname, host string, port int, encrypted bool, callback func(line string)) *Conn {
	if port == 0 {
		port = DefaultTCPPort
	}
	c := &Conn{
		shortname: shortname,
		host:      host,
		port:      port,
		encrypted: encrypted,
		callback:  callback,
	}
	c.log = log.Logger.With().Str("caller", "conn").Str("server", shortname).Logger()
	return c
}

// pingInterval derives the keep-alive cadence from the server's
// usertimeout. Very short timeouts need sub-second pings; stock clients
// cannot handle usertimeout=0 at all.
func pingInterval(usertimeout float64) time.Duration {
	switch {
	case usertimeout < 1:
		return 300 * time.Millisecond
	case usertimeout < 1.5:
		return 500 * time.Millisecond
	default:
		return time.Duration(usertimeout * 0.75 * float64(time.Second))
	}
}

// Connect dials the server, performs the welcome handshake, and starts
// the watcher and pinger. Call only once per object.
func (c *Conn) Connect() error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	c.log.Debug().Str("raddr", addr).Msg("dialing")
	sock, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return fmt.Errorf("dial %s err=%w", addr, err)
	}
	if c.encrypted {
		// TT servers almost always present self-signed certificates, so
		// verification stays off. This is a documented design choice.
		tc := tls.Client(sock, &tls.Config{
			InsecureSkipVerify: true,
			ServerName:         c.host,
		})
		if err := tc.Handshake(); err != nil {
			sock.Close()
			return fmt.Errorf("tls handshake %s err=%w", addr, err)
		}
		sock = tc
	}
	c.sock = sock
	c.reader = bufio.NewReader(sock)

	peerHost, peerPort := splitHostPort(sock.RemoteAddr().String())
	c.notify(fmt.Sprintf("_connected_ ipaddr=\"%s\" tcpport=%s", peerHost, peerPort))

	if err := c.handshake(); err != nil {
		c.disconnect(err.Error())
		return err
	}

	go c.watcher()
	go c.pinger()
	return nil
}

// handshake reads and validates the welcome line.
func (c *Conn) handshake() error {
	c.sock.SetReadDeadline(time.Now().Add(welcomeTimeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading welcome line: %w", err)
	}
	line = normalizeWelcome(line)
	c.notify(line)
	pl, err := ParseLine(line)
	if err != nil {
		return fmt.Errorf("parsing welcome line: %w", err)
	}
	if pl.Event != "welcome" {
		return fmt.Errorf("welcome line expected, got %q instead", strings.TrimSpace(line))
	}
	c.WelcomeParms = pl.Parms
	c.UserID = pl.Parms.Get("userid")
	c.Protocol = pl.Parms.Get("protocol")
	c.UserTimeout, _ = strconv.ParseFloat(pl.Parms.Get("usertimeout"), 64)
	// No timeouts after the handshake; reads block until data or error.
	c.sock.SetReadDeadline(time.Time{})
	return nil
}

// normalizeWelcome rewrites the legacy "teamtalk " keyword some server
// versions send as their first frame.
func normalizeWelcome(line string) string {
	if strings.HasPrefix(line, "teamtalk ") {
		return "welcome " + line[len("teamtalk "):]
	}
	return line
}

func splitHostPort(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}

// watcher handles all inbound text until EOF or error. Pongs answering
// our own pings are eaten; pongs inside a user-initiated id block pass
// through so the correlator can collect them.
func (c *Conn) watcher() {
	var curid string
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if c.terminated() {
				c.disconnect("Shutting down")
			} else {
				c.disconnect(fmt.Sprintf("Error during read: %s", err))
			}
			return
		}
		if c.terminated() {
			c.disconnect("Shutting down")
			return
		}
		line = normalizeWelcome(line)
		ll := strings.ToLower(strings.TrimRight(line, " \t\r\n"))
		switch {
		case strings.HasPrefix(ll, "begin id="):
			curid = ll[strings.Index(ll, "=")+1:]
		case strings.HasPrefix(ll, "end id="):
			curid = ""
		case curid == "" && ll == "pong":
			// Answer to one of our own keep-alive pings.
			continue
		}
		c.notify(line)
	}
}

// pinger keeps the connection alive.
func (c *Conn) pinger() {
	interval := pingInterval(c.UserTimeout)
	for !c.terminated() {
		if err := c.writeRaw("ping\r\n"); err != nil {
			c.disconnect(fmt.Sprintf("Error during ping: %s", err))
			return
		}
		time.Sleep(interval)
	}
}

// Send transmits one command line (without line ending).
func (c *Conn) Send(line string) error {
	line = strings.TrimRight(line, " \t\r\n") + "\r\n"
	if err := c.writeRaw(line); err != nil {
		c.disconnect("Error during send")
		return err
	}
	return nil
}

func (c *Conn) writeRaw(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.sock == nil {
		return fmt.Errorf("connection not established")
	}
	_, err := c.sock.Write([]byte(line))
	return err
}

func (c *Conn) terminated() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.shuttingDown
}

// Terminate destroys the connection without signaling `_disconnected_`.
// Used when the owning session is being replaced or shut down.
func (c *Conn) Terminate() {
	c.stateMu.Lock()
	c.shuttingDown = true
	alreadyDown := c.disconnected
	c.disconnected = true
	c.stateMu.Unlock()
	if !alreadyDown && c.sock != nil {
		c.sock.Close()
	}
}

// disconnect closes the socket and emits `_disconnected_` exactly once.
func (c *Conn) disconnect(reason string) {
	c.stateMu.Lock()
	if c.disconnected {
		c.stateMu.Unlock()
		return
	}
	c.disconnected = true
	c.DisconnectReason = reason
	c.stateMu.Unlock()

	c.log.Debug().Str("reason", reason).Msg("disconnected")
	c.notify("_disconnected_")
	if c.sock != nil {
		c.sock.Close()
	}
}

// Disconnect ends the connection and signals `_disconnected_` to the
// owner. Safe to call more than once.
func (c *Conn) Disconnect(reason string) {
	c.disconnect(reason)
}

func (c *Conn) notify(line string) {
	if cb := c.callback; cb != nil && !c.terminated() {
		cb(line)
	}
}
