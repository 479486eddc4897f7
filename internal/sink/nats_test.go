package sink

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r-smith/sshlure/internal/eventdata"
)

// startNATS runs an embedded NATS server on a random loopback port.
func startNATS(t *testing.T) string {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready within timeout")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestNATSPublishesRecord(t *testing.T) {
	url := startNATS(t)

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("sshlure.attacks", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	n, err := NewNATS(url, "sshlure.attacks")
	require.NoError(t, err)
	require.NoError(t, n.Record(testRecord("r1")))
	require.NoError(t, n.Close())

	select {
	case msg := <-msgs:
		assert.Equal(t, "r1", msg.Header.Get(nats.MsgIdHdr))
		assert.Equal(t, eventdata.AttackTypeSSHLogin, msg.Header.Get(headerAttackType))

		var got eventdata.AttackRecord
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, testRecord("r1"), got)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNATSConnectFailure(t *testing.T) {
	_, err := NewNATS("nats://127.0.0.1:1", "sshlure.attacks")
	assert.Error(t, err)
}
