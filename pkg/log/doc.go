/*
Package log provides structured logging for JStorage using zerolog.

The package wraps zerolog with a package-level Logger initialized once via
Init, plus a family of WithComponent/With<Entity> helpers that return child
loggers carrying structured fields. The subsystems that log (Registry,
Database, the MaintenanceScheduler, the NotificationBus, and the
jstoraged command) do so through WithComponent child loggers rather than
the package logger directly; Shard load/unload does not log.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	registryLog := log.WithComponent("registry")
	registryLog.Info().Msg("setup complete")

	shardLog := log.WithShard(database, table, shard.ID)
	shardLog.Warn().Err(err).Msg("failed to unload idle shard")

Context helpers: WithComponent (subsystem name), WithDatabase, WithTable,
WithShard, WithDataSet, and WithUser (caller identity).
*/
package log
