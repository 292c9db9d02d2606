/*
Package jstorage implements JStorage's storage core: the
Database → Table → DataSet naming hierarchy, the Shard load/unload state
machine, the per-table index, the per-record update-token protocol, and
the Registry that ties them together at process scope.

There are no ambient singletons: the Registry is an explicit value
constructed once and threaded through every constructor below. Clock,
Random, the NotificationBus and the CryptTool are collaborators passed in
rather than globals reached for from deep inside the call stack.
*/
package jstorage
