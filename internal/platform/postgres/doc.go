// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store package.
//
// Analysis claims are a single conditional UPDATE so that concurrent
// dispatchers cannot both win; every other entry transition locks the row
// with SELECT ... FOR UPDATE and applies the domain transition method inside
// a transaction. Schema migrations are embedded and applied with goose.
package postgres
