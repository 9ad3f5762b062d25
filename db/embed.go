// Package db embeds the database schema applied on startup.
package db

import _ "embed"

// Schema holds the DDL for the fulfillment tables: products, carts, pending
// payment intents, settled orders, purchase history, and API keys.
//
//go:embed migrations/001_schema.sql
var Schema string
