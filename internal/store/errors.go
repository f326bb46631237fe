package store

import "codeberg.org/mutker/fogpdm/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")
	ErrUnknownDriver = errors.ErrorCode("store_unknown_driver")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("store_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("store_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed

	// Run Errors
	ErrNoActiveRun = errors.ErrorCode("store_no_active_run")
	ErrNoReport    = errors.ErrorCode("store_no_report")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
