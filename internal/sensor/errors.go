package sensor

import "codeberg.org/mutker/fogpdm/internal/errors"

const (
	ErrExhausted      = errors.ErrorCode("sensor_source_exhausted")
	ErrReadFailed     = errors.ErrorCode("sensor_read_failed")
	ErrInvalidMachine = errors.ErrorCode("sensor_invalid_machine")
	ErrReplayLoad     = errors.ErrorCode("sensor_replay_load_failed")
	ErrNVMLInit       = errors.ErrorCode("sensor_nvml_init_failed")
)

// IsExhausted reports whether err signals that a finite source has no more
// readings for the machine.
func IsExhausted(err error) bool {
	return errors.HasCode(err, ErrExhausted)
}
