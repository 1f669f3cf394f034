// Package db embeds the schema and the demo catalog.
package db

import _ "embed"

// Schema is the idempotent DDL for every table the service uses.
//
//go:embed migrations/001_schema.sql
var Schema string

// Catalog is the demo products, coupons, users and addresses loaded by
// seed-db when no catalog file is given.
//
//go:embed seed/catalog.json
var Catalog []byte
