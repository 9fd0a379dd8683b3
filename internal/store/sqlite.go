package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// dsnParams are applied per connection by the driver, so every pooled
// connection carries them. WAL keeps concurrent readers off the writer's
// back; NORMAL sync still fsyncs at checkpoints.
const dsnParams = "?_journal_mode=WAL" +
	"&_synchronous=NORMAL" +
	"&_busy_timeout=5000" +
	"&_foreign_keys=on" +
	"&_cache_size=-500000"

// pragmas without a driver DSN parameter; advisory tuning only.
var pragmas = []string{
	"PRAGMA mmap_size = 524288000",
	"PRAGMA temp_store = MEMORY",
}

// Open returns a tuned sqlite handle for one of the dashboard's store files.
// The handle is shared for the process lifetime; each operation borrows a
// pooled connection rather than opening its own.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q to %s: %w", p, path, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return db, nil
}
