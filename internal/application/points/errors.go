package points

import (
	"errors"

	"github.com/loyalty/points/internal/domain/shared"
)

// failure classifies an error escaping a transaction: domain and validation errors
// pass through, anything else is a retryable persistence failure.
func failure(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *shared.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return shared.PersistenceFailure(op, err)
}
