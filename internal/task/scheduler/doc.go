// Package scheduler is the trigger registry: it maps named recurring tasks
// to schedules and fires them into the task engine.
//
// The registry is responsible only for:
//   - registering named tasks (names are unique)
//   - resolving schedule strings through a pluggable TriggerSource
//   - enqueueing firings into internal/task/engine, which owns execution,
//     overlap skipping and failure capture
package scheduler
