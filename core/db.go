package core

import (
	"database/sql"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type SQLiteDBOption struct {
	// Mode can be ro | rw | rwc | memory
	Mode string
	// Cache can be shared | private
	Cache string
	// JournalMode can be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF
	JournalMode string
	// BusyTimeoutMS is the sqlite busy_timeout in milliseconds.
	BusyTimeoutMS string
	// ForeignKeys enables foreign key enforcement.
	ForeignKeys bool
}

func (config *SQLiteDBOption) DSN(sb *strings.Builder) {
	if config == nil {
		return
	}

	params := make([]string, 0, 5)
	if config.Mode != "" {
		params = append(params, "mode="+config.Mode)
	}
	if config.Cache != "" {
		params = append(params, "cache="+config.Cache)
	}
	if config.JournalMode != "" {
		params = append(params, "_journal_mode="+config.JournalMode)
	}
	if config.BusyTimeoutMS != "" {
		params = append(params, "_busy_timeout="+config.BusyTimeoutMS)
	}
	if config.ForeignKeys {
		params = append(params, "_foreign_keys=on")
	}

	for i, p := range params {
		if i == 0 {
			sb.WriteString("?")
		} else {
			sb.WriteString("&")
		}
		sb.WriteString(p)
	}
}

type SQLiteDB struct {
	*sql.DB
	config       *SQLiteDBOption
	file         string
	migrationDir string
}

func NewSQLiteDB(file, migrationDir string, config *SQLiteDBOption) (*SQLiteDB, error) {
	db := &SQLiteDB{config: config, migrationDir: migrationDir, file: file}

	var dsn strings.Builder
	dsn.WriteString("file:")
	dsn.WriteString(db.file)
	db.config.DSN(&dsn)

	d, err := sql.Open("sqlite3", dsn.String())
	if err != nil {
		return nil, err
	}

	db.DB = d
	return db, nil
}

func (db *SQLiteDB) Migrate() error {
	migrationfs := os.DirFS(db.migrationDir)
	goose.SetBaseFS(migrationfs)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	if err := goose.Up(db.DB, "."); err != nil {
		return err
	}
	return nil
}
