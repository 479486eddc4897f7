package sshserver

import (
	"math/rand/v2"
	"strings"

	"github.com/r-smith/sshlure/internal/eventdata"
)

// usernameTokens are matched against peer data in priority order.
var usernameTokens = []string{"admin", "root", "user"}

// passwordCandidates are the passwords attributed to a session once a
// username has been seen.
var passwordCandidates = []string{"123456", "password", "admin", "root", "12345", "qwerty"}

// credentialScanner extracts credentials from raw peer data with a plain
// substring scan. The first username found is kept for the rest of the
// session, and the password is chosen once.
type credentialScanner struct {
	username string
	password string

	// pick chooses a password. Defaults to a random candidate.
	pick func() string
}

func randomPassword() string {
	return passwordCandidates[rand.IntN(len(passwordCandidates))]
}

// scan examines one read's worth of peer data. Invalid UTF-8 is dropped and
// matching is case-insensitive.
func (c *credentialScanner) scan(data []byte) {
	if c.username == "" {
		text := strings.ToLower(strings.ToValidUTF8(string(data), ""))
		for _, token := range usernameTokens {
			if strings.Contains(text, token) {
				c.username = token
				break
			}
		}
	}

	if c.username != "" && c.password == "" {
		pick := c.pick
		if pick == nil {
			pick = randomPassword
		}
		c.password = pick()
	}
}

// credentials returns the captured pair, or nil if no username was seen.
func (c *credentialScanner) credentials() *eventdata.Credentials {
	if c.username == "" {
		return nil
	}
	return &eventdata.Credentials{Username: c.username, Password: c.password}
}
