package db

import _ "embed"

// Schema creates every table used by the service. Statements are
// idempotent so migrate can run on every deploy.
//
//go:embed schema.sql
var Schema string
