package sink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gregdel/pushover"

	"github.com/r-smith/sshlure/internal/config"
	"github.com/r-smith/sshlure/internal/eventdata"
)

const (
	// pushoverTimeout bounds a single send. The client library has no
	// timeout of its own.
	pushoverTimeout = 10 * time.Second

	// pushoverInflight caps sends that outlived their timeout and are still
	// waiting on the API.
	pushoverInflight = 4
)

var (
	errSendTimeout  = errors.New("timed out waiting for pushover api")
	errAlertBacklog = errors.New("too many pending pushover alerts")
)

// Pushover sends a notification for every record that captured a username
// and password. Records without credentials are ignored.
type Pushover struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
	hostname  string
	timeout   time.Duration
	inflight  chan struct{}
}

// NewPushover returns a Pushover sink using the application token and the
// user or group key of the recipient.
func NewPushover(token, recipient string) *Pushover {
	return &Pushover{
		app:       pushover.New(token),
		recipient: pushover.NewRecipient(recipient),
		hostname:  config.Hostname(),
		timeout:   pushoverTimeout,
		inflight:  make(chan struct{}, pushoverInflight),
	}
}

// Record sends an alert for rec if it captured credentials. It returns an
// error once the send exceeds the timeout, leaving the request to finish in
// the background.
func (p *Pushover) Record(rec eventdata.AttackRecord) error {
	if rec.Credentials == nil {
		return nil
	}

	message := &pushover.Message{
		Title:     "SSH login attempt on " + p.hostname,
		Message:   alertText(rec),
		Priority:  pushover.PriorityNormal,
		Timestamp: rec.Time.Unix(),
		Retry:     60 * time.Second,
		Expire:    time.Hour,
		Sound:     pushover.SoundGamelan,
	}

	select {
	case p.inflight <- struct{}{}:
	default:
		return errAlertBacklog
	}

	errCh := make(chan error, 1)
	go func() {
		defer func() { <-p.inflight }()
		_, err := p.app.SendMessage(message, p.recipient)
		errCh <- err
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("pushover send error: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("pushover send error: %w", errSendTimeout)
	}
}

func alertText(rec eventdata.AttackRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "IP: %s\n", rec.SourceIP)
	fmt.Fprintf(&b, "Username: %s\n", rec.Credentials.Username)
	fmt.Fprintf(&b, "Password: %s\n", rec.Credentials.Password)
	if rec.ClientVersion != "" {
		fmt.Fprintf(&b, "Client: %s\n", rec.ClientVersion)
	}
	fmt.Fprintf(&b, "Location: %s, %s\n", rec.Location.City, rec.Location.Country)
	fmt.Fprintf(&b, "Session: %s", rec.SessionID)
	return b.String()
}
