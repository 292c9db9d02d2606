/*
Package cache implements JStorage's CacheBucket: a
TTL-bound JSON blob store independent of the Database/Table/DataSet
hierarchy, with the same adaptive file-backed load/unload shape as a
Shard but a simpler record format (cacheId, id, data, validUntil).

Insert holds the bucket's write lock for the whole load-then-insert
retry rather than releasing it mid-operation, closing the window a
concurrent insert could otherwise race through.
*/
package cache
