//go:build !cgo

package database

import (
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

func sqliteDSN(cfg SQLiteConfig) string {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.JournalMode, cfg.BusyTimeout)
	if cfg.ForeignKeys {
		dsn += "&_pragma=foreign_keys(ON)"
	}
	return dsn
}
