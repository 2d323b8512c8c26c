package postgres

import "embed"

// migrationFS holds the schema migrations, named {version}_{description}.up.sql
// and {version}_{description}.down.sql.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
