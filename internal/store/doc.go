// Package store is the persistence layer for members, events, and settings.
//
// It holds no temporal or business logic: the scheduler re-derives every
// "is X due" decision from the timestamps and flags persisted here, which is
// what makes the reminder engine restart-safe.
package store
