package report

import "codeberg.org/mutker/fogpdm/internal/errors"

const (
	ErrUnknownFormat = errors.ErrorCode("report_unknown_format")
	ErrEncode        = errors.ErrorCode("report_encode_failed")
	ErrDecode        = errors.ErrorCode("report_decode_failed")
)
