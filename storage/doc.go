// Package storage implements interfaces.Store on interchangeable backends.
//
// Every store is bound to one namespace and holds two independent spaces:
// blobs, byte sequences addressed by slash-separated relative paths, and
// values, JSON-representable data addressed by string keys.
//
// # Backends
//
//   - local - LocalStore keeps blobs as files under <directory>/<namespace>/
//     and all values in one JSON document, <directory>/<namespace>.json,
//     rewritten in full on each mutation. Because blob paths become
//     directories, "cogs" and "cogs/a.py" cannot both be stored.
//   - temp - EphemeralStore keeps both spaces in memory.
//   - vault, s3, ipfs - RemoteStore over a hosted service. Each service
//     provides a blob resource ("drive") and a record resource ("base");
//     values travel wrapped in an Envelope.
//
// # Factory
//
// StoreFactory maps backend names, case-insensitively, to constructors:
//
//	sf := storage.NewStoreFactory(cfg.Database, log)
//	store, err := sf.GetStore("local", "plugins")
//
// An unregistered name fails with *interfaces.UnknownBackendError.
//
// # Absence and errors
//
// Reads report absence through a found flag; a missing blob or key is never
// an error, and deleting one is a no-op. Failures wrap the sentinels in the
// interfaces package: ErrIO for the file system, ErrNetwork for any remote
// failure including timeouts, ErrConfiguration for unusable options, and
// ErrInvalidPath for blob paths that are empty, absolute or escape the
// namespace.
//
// # Concurrency
//
// Stores do no locking. Callers sharing a store, or a local directory,
// between goroutines or processes must serialize access themselves.
package storage
