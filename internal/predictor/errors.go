package predictor

import "codeberg.org/mutker/fogpdm/internal/errors"

const (
	ErrTimeout          = errors.ErrorCode("predictor_timeout")
	ErrPredictionFailed = errors.ErrorCode("predictor_prediction_failed")
	ErrInvalidResponse  = errors.ErrorCode("predictor_invalid_response")
	ErrModelLoad        = errors.ErrorCode("predictor_model_load_failed")
	ErrServer           = errors.ErrorCode("predictor_server_failed")
)
