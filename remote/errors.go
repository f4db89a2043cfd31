// ABOUTME: Error types for the content API client
// ABOUTME: Maps HTTP statuses and transport failures onto per-item error kinds
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/harperreed/rolodex/models"
)

// HTTPError is a non-2xx response from the content API.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func statusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsNotFound reports a 404 response.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsConflict reports a duplicate-key class response.
func IsConflict(err error) bool {
	return statusOf(err) == http.StatusConflict
}

// ConflictRecord extracts the existing record some servers return with a
// 409 response.
func ConflictRecord(err error) (ContactRecord, bool) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusConflict || len(httpErr.Body) == 0 {
		return ContactRecord{}, false
	}
	var envelope struct {
		Data *ContactRecord `json:"data"`
	}
	if json.Unmarshal(httpErr.Body, &envelope) != nil || envelope.Data == nil || envelope.Data.ID == "" {
		return ContactRecord{}, false
	}
	return *envelope.Data, true
}

// IsShapeError reports a 400/422 response, i.e. the identifier or payload
// shape was not accepted.
func IsShapeError(err error) bool {
	status := statusOf(err)
	return status == http.StatusBadRequest || status == http.StatusUnprocessableEntity
}

// IsTimeout reports a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ErrorKindOf classifies an error that is not one of the success-equivalent
// statuses.
func ErrorKindOf(err error) models.ErrorKind {
	switch {
	case err == nil:
		return ""
	case IsTimeout(err):
		return models.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return models.ErrorKindCanceled
	case statusOf(err) != 0:
		return models.ErrorKindRejected
	default:
		return models.ErrorKindNetwork
	}
}
