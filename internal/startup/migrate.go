package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/connectly/internal/logger"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate выполняет все *.sql из fsys в лексикографическом порядке (001_, 002_, ...).
// Миграции написаны идемпотентно (IF NOT EXISTS), поэтому запускаются на каждом старте.
func Migrate(ctx context.Context, db execer, fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("migrate glob: %w", err)
	}
	sort.Strings(files)
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("migrate read %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		logger.Debugf("migration applied: %s", name)
	}
	logger.Infof("migrations applied (%d files)", len(files))
	return nil
}
