/*
Package types defines the core data structures shared across JStorage.

This package contains the domain model referenced by every other package:
databases, tables, shards, records (DataSets), cache entries, and the
mutation events the notification bus fans out. Types here carry little
behavior beyond small invariant helpers; the subsystems in pkg/jstorage,
pkg/cache, and pkg/notify own the logic that operates on them.

# Architecture

JStorage's naming hierarchy is three levels deep:

	Database ("blog")
	  └─ Table ("posts")
	       └─ DataSet ("post1")
	            └─ dataType ("meta") → JSON object

A Shard groups a bounded number of DataSets that share one on-disk file.
A Table never stores DataSets directly; it stores an index from record
identifier to owning shard identifier, plus the pool of shards themselves.

CacheBuckets are independent of the Database/Table/DataSet hierarchy and
hold TTL-bound JSON blobs instead of typed records.
*/
package types
