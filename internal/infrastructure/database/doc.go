// Package database provides SQLite connectivity for the NAD bridge.
//
// The bridge keeps two tables: state_history (every channel value the
// receiver reported) and audit_log (commands and status transitions).
// Both are append-heavy and pruned by age, so this package adds a WAL
// checkpoint helper on top of the usual open/migrate/health lifecycle.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes
//   - Busy timeout prevents lock contention errors
//   - A single connection serialises writers
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Each migration file has both .up.sql and .down.sql
//   - Files are named YYYYMMDD_HHMMSS_description.{up,down}.sql
package database
