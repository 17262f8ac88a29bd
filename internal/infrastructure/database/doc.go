// Package database provides the SQLite connection used for the receiver
// state cache and state history.
//
// It uses github.com/mattn/go-sqlite3 with WAL mode and a single open
// connection, and applies versioned SQL migrations from any fs.FS
// (normally the embedded migrations package):
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
