//go:build cgo

package database

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriverName = "sqlite3"

func sqliteDSN(cfg SQLiteConfig) string {
	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", cfg.Path, cfg.JournalMode, cfg.BusyTimeout)
	if cfg.ForeignKeys {
		dsn += "&_foreign_keys=ON"
	}
	return dsn
}
