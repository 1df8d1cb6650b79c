package store

import (
	"errors"
	"fmt"

	"island/internal/domain"
)

func notFound(worldID string) error {
	return fmt.Errorf("%w: %s", domain.ErrWorldNotFound, worldID)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrWorldNotFound)
}
