package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

// DownstreamErrorResponse matches the envelope that ordercore services emit
// for errors, so structured bodies survive a hop between services.
type DownstreamErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes a non-2xx response body and turns it into an
// error. Structured bodies keep their code and message; anything else
// becomes a plain error carrying the status and raw body. The body is read
// to at most 1 MB and always closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var downstream DownstreamErrorResponse
	if json.Unmarshal(raw, &downstream) == nil && downstream.Error != nil {
		return mapDownstreamError(resp.StatusCode, downstream.Error.Code, downstream.Error.Message, serviceName)
	}

	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(raw))
}

// mapDownstreamError keeps the downstream error's semantics: a 404 from the
// inventory service is still a not-found to our caller, just qualified with
// the service name.
func mapDownstreamError(status int, code, message, serviceName string) error {
	qualified := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualified)
	case status == http.StatusServiceUnavailable:
		return &apperrors.AppError{
			Code:    code,
			Message: qualified,
			Status:  http.StatusServiceUnavailable,
			Err:     apperrors.ErrServiceUnavail,
		}
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	default:
		return &apperrors.AppError{
			Code:    code,
			Message: qualified,
			Status:  status,
		}
	}
}

// IsClientError reports whether status is a 4xx. Compensation logic uses
// this: an invalid request never took effect downstream, so there is
// nothing to undo.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
