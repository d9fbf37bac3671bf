package model

import "errors"

// ErrNotFound is returned by stores when the addressed row does not exist.
var ErrNotFound = errors.New("not found")
