// Package database provides SQLite connectivity for IoTZoo Core.
//
// It manages:
//   - The connection, with WAL mode and a busy timeout
//   - Schema migrations embedded into the binary
//   - Transaction helpers used by repositories
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or have defaults.
package database
