package services

import (
	"context"
	"errors"
	"net/http"

	"sfucore/internal/core/domain"
	apperrors "sfucore/pkg/errors"
)

// engineError maps engine sentinels onto the control-surface error codes.
func engineError(err error, op string) error {
	if err == nil {
		return nil
	}
	switch {
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, domain.ErrMissingRemoteParams),
		errors.Is(err, domain.ErrUnsupportedCodec),
		errors.Is(err, domain.ErrUnsupportedTransport):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, op+": "+err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrAlreadyConnected):
		return apperrors.WrapError(err, apperrors.ErrCodeConflict, op+": "+err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrTransportClosed):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "transport not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrProducerClosed), errors.Is(err, domain.ErrProducerNotFound):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "producer not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrConsumerClosed):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "consumer not found", http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.WrapError(err, apperrors.ErrCodeTimeout, op+" timed out", http.StatusGatewayTimeout)
	}
	return apperrors.WrapEngine(err, op)
}
