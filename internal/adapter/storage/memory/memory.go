// Package memory provides in-process implementations of the registry, queue
// and bus ports. This is the documented degraded mode: single-process,
// non-durable, used when the shared state store is not configured and as the
// test double. It is not a production path: state is lost on restart and
// cannot be shared across replicas.
package memory
