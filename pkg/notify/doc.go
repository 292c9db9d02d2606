/*
Package notify implements JStorage's NotificationBus.

The bus is a single-producer-many-consumer dispatcher: record mutations
flow in from the storage core on Publish, are run through a single
dispatcher goroutine, and are fanned out to every Listener whose filter
matches the event's database/table. A Listener never receives an event it
originated itself (no self-notification), and every Listener receives an
unconditional heartbeat every two seconds regardless of filters, used to
detect connection liveness.

Publish blocks when the dispatcher's bounded queue is full, providing
backpressure up to the publisher; a Listener's own queue is
unbounded, so a slow subscriber cannot stall the dispatcher or other
subscribers.
*/
package notify
