// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the application's core logic. The entry store is the only writer of
// entry state, and every transition it exposes is atomic with respect to
// concurrent writers of the same entry.
package store
