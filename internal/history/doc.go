// Package history implements the append-only log of completed sync
// attempts that underlies rollback. The FileStore is the engine's only
// durable state; MemoryStore backs tests.
package history
