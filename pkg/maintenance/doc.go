/*
Package maintenance runs JStorage's background upkeep: unloading idle
shards, snapshotting loaded ones, and sweeping expired cache entries.
All three tasks run on one dedicated periodic scheduler, executed
sequentially so they never race each other.

Each task also exists as a standalone exported method so tests can drive
a cycle deterministically (advance a FakeClock, call the method, assert)
instead of waiting on real tickers.
*/
package maintenance
