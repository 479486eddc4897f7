package sink

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*SQL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attacks.db")
	s, err := OpenSQL("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenSQLUnsupportedDriver(t *testing.T) {
	_, err := OpenSQL("mysql", "dsn")
	assert.Error(t, err)
}

func TestSQLRecord(t *testing.T) {
	s, _ := openTestDB(t)

	require.NoError(t, s.Record(testRecord("r1")))

	var (
		username, password sql.NullString
		sourceIP, country  string
		sourcePort         int
		latitude           float64
	)
	row := s.db.QueryRow(`SELECT username, password, source_ip, source_port, country, latitude
		FROM attack_logs WHERE record_id = ?`, "r1")
	require.NoError(t, row.Scan(&username, &password, &sourceIP, &sourcePort, &country, &latitude))

	assert.Equal(t, "admin", username.String)
	assert.Equal(t, "123456", password.String)
	assert.Equal(t, "203.0.113.5", sourceIP)
	assert.Equal(t, 51515, sourcePort)
	assert.Equal(t, "Germany", country)
	assert.InDelta(t, 52.52, latitude, 0.001)
}

func TestSQLRecordWithoutCredentialsStoresNull(t *testing.T) {
	s, _ := openTestDB(t)

	rec := testRecord("r2")
	rec.Credentials = nil
	require.NoError(t, s.Record(rec))

	var username, password sql.NullString
	require.NoError(t, s.db.QueryRow(`SELECT username, password FROM attack_logs WHERE record_id = ?`, "r2").
		Scan(&username, &password))
	assert.False(t, username.Valid)
	assert.False(t, password.Valid)
}

func TestSQLRecordIsIdempotent(t *testing.T) {
	s, _ := openTestDB(t)

	require.NoError(t, s.Record(testRecord("r1")))
	require.NoError(t, s.Record(testRecord("r1")))
	require.NoError(t, s.Record(testRecord("r2")))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM attack_logs`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSQLReopenKeepsRows(t *testing.T) {
	s, path := openTestDB(t)
	require.NoError(t, s.Record(testRecord("r1")))
	require.NoError(t, s.Close())

	s2, err := OpenSQL("sqlite3", path)
	require.NoError(t, err)
	defer s2.Close()

	var n int
	require.NoError(t, s2.db.QueryRow(`SELECT COUNT(*) FROM attack_logs`).Scan(&n))
	assert.Equal(t, 1, n)
}
