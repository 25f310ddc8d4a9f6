// Package sched provides cancellable periodic tasks over an injectable
// clock.
//
// The resilience pipeline runs several background loops (ledger sweeps,
// notification flushes, history pruning). Driving them through a Clock
// instead of raw time.Ticker lets tests advance virtual time
// deterministically; production code uses the real clock.
package sched
