package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Lifecycle errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"
	ErrNotRunning     ErrorCode = "daemon_not_running"

	// Sensor errors
	ErrSensorUnavailable ErrorCode = "sensor_unavailable"
	ErrSensorTimeout     ErrorCode = "sensor_timeout"
	ErrPermissionDenied  ErrorCode = "permission_denied"

	// Store errors
	ErrStoreBusy          ErrorCode = "store_busy"
	ErrSchemaIncompatible ErrorCode = "schema_incompatible"
	ErrSessionOpen        ErrorCode = "session_already_open"
	ErrSessionClosed      ErrorCode = "session_already_closed"

	// Protocol errors
	ErrProtocolVersion ErrorCode = "protocol_version"
	ErrLagging         ErrorCode = "lagging"
	ErrBadRequest      ErrorCode = "bad_request"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:           "Internal error occurred",
	ErrInvalidArgument:    "Invalid argument provided",
	ErrUnavailable:        "Service unavailable",
	ErrInvalidConfig:      "Invalid configuration",
	ErrMissingConfig:      "Missing configuration",
	ErrBindFlags:          "Failed to bind flags",
	ErrReadConfig:         "Failed to read configuration",
	ErrInitFailed:         "Initialization failed",
	ErrShutdownFailed:     "Shutdown failed",
	ErrAlreadyRunning:     "Daemon is already running",
	ErrNotRunning:         "Daemon is not running",
	ErrSensorUnavailable:  "Sensor cannot be read",
	ErrSensorTimeout:      "Sensor read deadline exceeded",
	ErrPermissionDenied:   "Permission denied",
	ErrStoreBusy:          "Store is busy",
	ErrSchemaIncompatible: "On-disk schema is newer than this build",
	ErrSessionOpen:        "A session of this kind is already open",
	ErrSessionClosed:      "Session is already closed",
	ErrProtocolVersion:    "Unsupported protocol version",
	ErrLagging:            "Subscriber cannot keep up",
	ErrBadRequest:         "Malformed request",
	ErrOperationFailed:    "Operation failed",
	ErrTimeout:            "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
