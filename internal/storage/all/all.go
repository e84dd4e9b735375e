// Package all links every storage backend into the binary.
package all

import (
	_ "priceetl/internal/storage/mssql"
	_ "priceetl/internal/storage/postgres"
	_ "priceetl/internal/storage/sqlite"
)
