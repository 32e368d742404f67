// Package migration applies the versioned SQLite schema of the assistant.
//
// Migrations are SQL files named {version}_{description}.sql. The schema
// shipped with the service is embedded from the sql directory; other
// sources can be supplied as any fs.FS. Applied versions are tracked in the
// schema_migrations table so each file runs once, inside its own
// transaction.
package migration
