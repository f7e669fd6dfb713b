// ABOUTME: Actor resolution: the current host is registered in systems on first use only
// ABOUTME: Its integer id is the opaque actor reference attached to every mutation

package store

import (
	"context"
	"database/sql"
	"errors"
	"runtime"
	"time"
)

// System is a host that has written to the store.
type System struct {
	ID        int64
	Name      string
	Hostname  string
	Platform  string
	IsCurrent bool
	CreatedAt time.Time
	LastSeen  time.Time
}

// CurrentSystemID returns the actor reference for this host, registering it
// if needed.
func (s *SQLiteStore) CurrentSystemID(ctx context.Context) (int64, error) {
	sys, err := s.CurrentSystem(ctx)
	if err != nil {
		return 0, err
	}
	return sys.ID, nil
}

// CurrentSystem returns the host the process is running on. A known host is
// only read; an unknown one is registered and marked as the current system.
func (s *SQLiteStore) CurrentSystem(ctx context.Context) (*System, error) {
	hostname, err := s.hostname()
	if err != nil {
		return nil, storageError("resolving hostname", err)
	}
	if hostname == "" {
		hostname = "localhost"
	}

	sys, err := systemByHostname(ctx, s.db, hostname)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return sys, err
	}

	now := formatTime(s.clock())
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		// Another process may have registered the host since the read.
		if sys, err = systemByHostname(ctx, tx, hostname); err == nil || !errors.Is(err, ErrNotFound) {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO systems (name, hostname, platform, is_current, created_at, last_seen)
			VALUES (?, ?, ?, 1, ?, ?)
		`, hostname, hostname, runtime.GOOS, now, now)
		if err != nil {
			return storageError("registering system", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return storageError("reading system id", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE systems SET is_current = (id = ?)`, id); err != nil {
			return storageError("marking current system", err)
		}
		s.logger.Info("registered system", "id", id, "hostname", hostname)

		sys, err = getSystem(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sys, nil
}

func systemByHostname(ctx context.Context, q queryer, hostname string) (*System, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM systems WHERE hostname = ?`, hostname).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("system %q not registered", hostname)
	}
	if err != nil {
		return nil, storageError("looking up system", err)
	}
	return getSystem(ctx, q, id)
}

func getSystem(ctx context.Context, q queryer, id int64) (*System, error) {
	var sys System
	var createdAt, lastSeen string
	err := q.QueryRowContext(ctx, `
		SELECT id, name, hostname, platform, is_current, created_at, last_seen
		FROM systems WHERE id = ?
	`, id).Scan(&sys.ID, &sys.Name, &sys.Hostname, &sys.Platform, &sys.IsCurrent, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("system %d not found", id)
	}
	if err != nil {
		return nil, storageError("reading system", err)
	}
	if sys.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, storageError("reading system", err)
	}
	if sys.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, storageError("reading system", err)
	}
	return &sys, nil
}
