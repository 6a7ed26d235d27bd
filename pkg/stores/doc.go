// Package stores provides persistence for resources and their dependency
// lists. SQLiteStore keeps them in SQLite (WAL mode, pooled connections,
// embedded migrations); MemoryStore keeps them in process memory for tests
// and throwaway servers. Both record the audit trail fed by AuditSubscriber.
package stores
