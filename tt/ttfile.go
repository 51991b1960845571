package tt

import (
	"fmt"
	"regexp"
)

var ttVerRE = regexp.MustCompile(`^(\d\.\d)\..*`)

const ttFileTemplate = `<?xml version="1.0" encoding="UTF-8" ?>
<teamtalk version="%s">
    <host>
        <name>%s</name>
        <address>%s</address>
        <password>%s</password>
        <tcpport>%s</tcpport>
        <udpport>%s</udpport>
        <encrypted>%s</encrypted>
        <auth>
            <username>%s</username>
            <password>%s</password>
        </auth>
        <join>
            <channel>%s</channel>
            <password>%s</password>
        </join>
    </host>
</teamtalk>
`

// MakeTTString builds the contents of a .tt file for importing this
// server into a stock TeamTalk client. userInfo may carry username and
// password keys; cid is an optional channel to join; verGiven overrides
// the client version (like "5.1"). Requires a logged-in connection.
func (s *Server) MakeTTString(userInfo AttrDict, cid, verGiven string) string {
	if s.State() != StateLoggedIn {
		return ""
	}
	ver := verGiven
	if ver == "" {
		ver = s.Info.Get("version")
		if ver < "5.0" {
			ver = "4.0"
		} else {
			ver = ttVerRE.ReplaceAllString(ver, "$1")
		}
		if ver == "" {
			ver = "5.0"
		}
	}
	encrypted := "false"
	if s.Encrypted {
		encrypted = "true"
	}
	channel := AttrDict{}
	if cid != "" {
		s.mu.RLock()
		if ch, ok := s.Channels[cid]; ok {
			channel = ch
		}
		s.mu.RUnlock()
	}
	return fmt.Sprintf(ttFileTemplate,
		ver,
		s.Shortname,
		s.Host,
		s.Info.Get("serverpassword"),
		s.Info.Get("tcpport"),
		s.Info.Get("udpport"),
		encrypted,
		userInfo.Get("username"),
		userInfo.Get("password"),
		channel.Get("channel"),
		channel.Get("password"),
	)
}
