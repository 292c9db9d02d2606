/*
Package metrics provides Prometheus metrics collection and exposition for
JStorage: metrics are package-level prometheus collectors registered once at init
and exposed over HTTP via Handler(), and Timer is a small helper for
observing operation latency into a histogram.

The metric set below tracks the storage core's own concerns — shard
lifecycle transitions, the notification dispatcher's queue depth, cache
hit/miss, and rate-limiter rejections.
*/
package metrics
