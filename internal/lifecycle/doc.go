// Package lifecycle drives the reminder engine: a daily trigger for member
// welcome/intro batches, a short-interval tick for event reminders, and a
// staleness probe that retires events whose source message vanished.
//
// Every tick re-derives its decisions from the store; nothing is kept in
// memory between wakes, so a restart at any point is safe. A notification
// is recorded as sent only after delivery succeeded, which makes delivery
// at-least-once: the only duplicate window is a crash between "send" and
// "record".
package lifecycle
