// Package database manages the PostgreSQL/TimescaleDB connection pool used
// by the tick recorder. The feed core itself never touches the database.
package database
