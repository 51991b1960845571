package tt

// State is the connection/login state of a server session. The order is
// meaningful only for diagnostics.
type State int

const (
	StateDisconnected State = iota // no connection exists
	StateConnecting                // connection being made
	StateConnected                 // welcome received (also after logout)
	StateLoggingIn                 // login request sent
	StateLoginError                // login tried but rejected
	StateLoggingOut                // logout request sent
	StateLoggedIn                  // login sequence completed
)

var stateNames = [...]string{
	"disconnected",
	"connecting",
	"connected",
	"loggingIn",
	"loginError",
	"loggingOut",
	"loggedIn",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
