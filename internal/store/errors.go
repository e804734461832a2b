package store

import "codeberg.org/mutker/jolt/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")

	// Schema errors
	ErrSchemaInitFailed      = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaMigrationFailed = errors.ErrorCode("store_schema_migration_failed")
	ErrSchemaIncompatible    = errors.ErrSchemaIncompatible
	ErrTransactionFailed     = errors.ErrorCode("store_transaction_failed")

	// Storage errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrBusy         = errors.ErrStoreBusy

	// Session errors
	ErrSessionOpen     = errors.ErrSessionOpen
	ErrSessionClosed   = errors.ErrSessionClosed
	ErrSessionNotFound = errors.ErrorCode("store_session_not_found")

	// Query errors
	ErrQueryFailed = errors.ErrorCode("store_query_failed")
)
