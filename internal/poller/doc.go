// Package poller provides the task store, subscription registry and
// scheduler that keep pollster's timelines fresh.
//
// The main components are:
//
//   - [Scheduler]: one task per query fingerprint, a time-ordered queue,
//     a concurrency ceiling and fan-out to subscribers
//   - [Subscriber]: the notification capability renderers implement
//   - [Backoff]: the cube-root reschedule delay
//   - [TaskInfo]: a snapshot of a task's scheduling state
//
// Scheduling rules:
//
//   - a task's first execution fetches only the newest few entries and is
//     rescheduled after a short fixed delay
//   - later executions fetch only entries after the latest seen and are
//     rescheduled by how stale the content is, never sooner than 6s
//   - a failed fetch is rescheduled by the same formula using the last
//     known freshness
//   - [Scheduler.NotifyChanged] makes matching tasks due immediately
//
// Users of the pollster library should not need to interact with this
// package directly. Configuration is done through the main pollster package.
package poller
