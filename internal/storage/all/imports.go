// Package all wires every built-in sink backend into the storage factory.
//
// It exists for side effects only: a blank import runs each backend's init,
// which registers its factory. After importing it these kinds resolve:
//
//   - "memory"   (salesagg/internal/storage/memory)
//   - "postgres" (salesagg/internal/storage/postgres)
//   - "mssql"    (salesagg/internal/storage/mssql)
//   - "mysql"    (salesagg/internal/storage/mysql)
//   - "sqlite"   (salesagg/internal/storage/sqlite)
//   - "pebble"   (salesagg/internal/storage/pebblekv)
//   - "parquet"  (salesagg/internal/storage/parquet)
//   - "kafka"    (salesagg/internal/storage/kafkapub)
//
// A binary that needs fewer backends can import the ones it wants directly.
package all

import (
	_ "salesagg/internal/storage/kafkapub"
	_ "salesagg/internal/storage/memory"
	_ "salesagg/internal/storage/mssql"
	_ "salesagg/internal/storage/mysql"
	_ "salesagg/internal/storage/parquet"
	_ "salesagg/internal/storage/pebblekv"
	_ "salesagg/internal/storage/postgres"
	_ "salesagg/internal/storage/sqlite"
)
