package singleflight

import "errors"

// ErrPanicked is wrapped around the recovered value when fn panics.
var ErrPanicked = errors.New("singleflight: function panicked")
