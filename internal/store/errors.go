package store

import (
	"errors"
	"fmt"
)

// ErrPathNotFound is matched by every NotFoundError.
var ErrPathNotFound = errors.New("path not found")

type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPathNotFound, e.Path)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrPathNotFound
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrPathNotFound)
}
