package offload

import "codeberg.org/mutker/fogpdm/internal/errors"

const (
	ErrInvalidPolicy = errors.ErrorCode("offload_invalid_policy")
)
