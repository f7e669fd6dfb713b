// ABOUTME: Shared fixtures for store tests: temp stores, a settable clock, state hashing
// ABOUTME: stateHash dumps every table in rowid order to prove an operation changed nothing

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testHostname() (string, error) { return "test-host", nil }

func setupTestStore(t *testing.T, opts ...Option) (*SQLiteStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	path := filepath.Join(t.TempDir(), "context.db")

	all := append([]Option{WithClock(clock.Now), WithHostname(testHostname)}, opts...)
	s, err := NewSQLiteStore(path, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

// actorFor registers the test host and returns its id.
func actorFor(t *testing.T, s *SQLiteStore) int64 {
	t.Helper()
	id, err := s.CurrentSystemID(context.Background())
	require.NoError(t, err)
	return id
}

// addSystem registers another host directly.
func addSystem(t *testing.T, s *SQLiteStore, hostname string) int64 {
	t.Helper()
	res, err := s.db.Exec(`INSERT INTO systems (name, hostname, platform) VALUES (?, ?, 'linux')`, hostname, hostname)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// seedProject stores a project whose last update is age before the clock.
func seedProject(t *testing.T, s *SQLiteStore, clock *testClock, name, status string, age time.Duration) *Project {
	t.Helper()
	now := clock.Now()
	clock.Set(now.Add(-age))
	defer clock.Set(now)

	p, err := s.StoreProject(context.Background(), &Project{Name: name, Status: status})
	require.NoError(t, err)
	return p
}

// seedContext stores an entry whose last update is age before the clock.
func seedContext(t *testing.T, s *SQLiteStore, clock *testClock, project, key string, age time.Duration) *ContextEntry {
	t.Helper()
	now := clock.Now()
	clock.Set(now.Add(-age))
	defer clock.Set(now)

	e, err := s.StoreContext(context.Background(), project, &ContextEntry{Key: key, Type: "note", Value: "value of " + key})
	require.NoError(t, err)
	return e
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// stateHash fingerprints every table's rows.
func stateHash(t *testing.T, s *SQLiteStore) string {
	t.Helper()
	ctx := context.Background()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)
	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())

	h := sha256.New()
	for _, table := range tables {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %q ORDER BY rowid`, table))
		require.NoError(t, err)
		cols, err := rows.Columns()
		require.NoError(t, err)
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			require.NoError(t, rows.Scan(ptrs...))
			fmt.Fprintf(h, "%s|", table)
			for _, v := range vals {
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				fmt.Fprintf(h, "%v|", v)
			}
			fmt.Fprintln(h)
		}
		require.NoError(t, rows.Err())
		require.NoError(t, rows.Close())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func tableExists(t *testing.T, s *SQLiteStore, name string) bool {
	t.Helper()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func columnExists(t *testing.T, s *SQLiteStore, table, column string) bool {
	t.Helper()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func countRows(t *testing.T, s *SQLiteStore, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(query, args...).Scan(&n))
	return n
}
