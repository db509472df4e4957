// Package netlog records the outbound HTTP calls made by a program, and folds
// the lifecycle of each call into a single record.
//
// The basic idea is to install an instrumented [net/http.RoundTripper] (see
// [github.com/peterbourgon/netlog/netloghttp]) ahead of the real transport.
// For every qualifying call, the transport reports four kinds of lifecycle
// events to an [Observer]: started, response received, data received, and
// finished. An [Engine] is the usual observer. It correlates those events by
// [ID], and maintains the most recent records in a bounded, newest-first ring
// buffer, alongside a separate trail of [TaskEvent] values for diagnostics.
//
// Records are kept in memory, so if a process restarts, they're lost. Records
// can be explicitly persisted to a directory-backed store (see
// [github.com/peterbourgon/netlog/netlogstore]), which also picks up changes
// made to that directory by other processes.
//
// Most applications should not wire these pieces together by hand, and should
// instead use [github.com/peterbourgon/netlog/eznetlog].
package netlog
