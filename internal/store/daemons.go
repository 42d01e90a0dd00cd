package store

import (
	"context"
	"fmt"
)

// RegisterDaemon records this process's pid under name in the daemons
// table, per spec.md section 6's "each registers its OS process id into a
// daemons table on startup."
func (s *Store) RegisterDaemon(ctx context.Context, pid int, name string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO daemons (pid, name, started_at) VALUES ($1, $2, now())
		 ON CONFLICT (pid) DO UPDATE SET name = $2, started_at = now()`,
		pid, name)
	if err != nil {
		return fmt.Errorf("register_daemon: %w", err)
	}
	return nil
}

// UnregisterDaemon removes this process's daemons row on clean shutdown.
func (s *Store) UnregisterDaemon(ctx context.Context, pid int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM daemons WHERE pid = $1`, pid)
	if err != nil {
		return fmt.Errorf("unregister_daemon: %w", err)
	}
	return nil
}
