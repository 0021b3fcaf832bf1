// Package db provides embedded database schema and seed files.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Catalog contains the default seed data used by cmd/seed-db.
//
//go:embed seed/catalog.json
var Catalog []byte
