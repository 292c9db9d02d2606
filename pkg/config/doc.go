/*
Package config holds JStorage's bootstrap configuration (data directory,
shard cap, maintenance intervals, rate-limit defaults) and the small
Clock/Random collaborator interfaces the storage core consumes instead of
reaching for time.Now or crypto/rand directly.

A bootstrap YAML file is optional; cobra flags in cmd/jstoraged are a
complete configuration on their own; the file only overlays defaults.

Note for implementers of the external HTTP/TLS listener (out of scope
here): header termination must be detected strictly on CRLF-CRLF per
RFC 7230, never on a bare zero byte.
*/
package config
