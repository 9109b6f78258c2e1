// Package db embeds the database schema and the seed catalog.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables. Every
// statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedCatalog is the default catalog, users and API keys as JSON.
//
//go:embed seed/catalog.json
var SeedCatalog []byte
