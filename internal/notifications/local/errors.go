package local

import "errors"

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("local backend: closed")
