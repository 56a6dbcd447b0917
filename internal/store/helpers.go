package store

import (
	"errors"

	"github.com/sells-group/profile-engine/internal/model"
)

// IsNotFound reports whether the error chain contains model.ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

type scannable interface {
	Scan(dest ...any) error
}
