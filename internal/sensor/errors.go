package sensor

import "codeberg.org/mutker/jolt/internal/errors"

const (
	ErrUnavailable      = errors.ErrSensorUnavailable
	ErrPermissionDenied = errors.ErrPermissionDenied
	ErrReadFailed       = errors.ErrorCode("sensor_read_failed")
)
