package common

import (
	"database/sql"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// RunMigrations reads and executes the given SQL migration file(s).
func RunMigrations(db *sql.DB, log *zap.SugaredLogger, paths ...string) error {
	for _, path := range paths {
		log.Infow("running migration", "path", path)

		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration file: %w", err)
		}

		if _, err := db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("exec migration %s: %w", path, err)
		}
	}
	log.Infow("migrations applied", "count", len(paths))
	return nil
}
