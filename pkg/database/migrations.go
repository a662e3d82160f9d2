package database

import "embed"

// Migrations holds the SQL schema bundled with the binary so that a
// deploy-time migration tool can apply it without a separate artifact.
//
//go:embed migrations/*.sql
var Migrations embed.FS
