// Package postgres owns the PostgreSQL connection pools behind a
// txscope.Coordinator. It opens a primary and a replica pool through the
// pgx stdlib driver, routes them through dbresolver, keeps a registry of
// schema facades and runs golang-migrate migrations per schema.
package postgres
