package classify

import (
	"github.com/doublewordai/arbiter/internal/errors"
)

const maxInputsPerRequest = 128

// ValidateClassificationRequest checks the request shape before any input
// reaches the scheduler.
func ValidateClassificationRequest(req *ClassificationRequest) error {
	if len(req.Input) == 0 {
		return &errors.BadRequestError{ErrorMsg: "input must contain at least one text"}
	}
	if len(req.Input) > maxInputsPerRequest {
		return &errors.BadRequestError{ErrorMsg: "input exceeds the per-request limit"}
	}
	return nil
}
