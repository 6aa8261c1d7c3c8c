package state

import "errors"

var ErrActivityDisabled error = errors.New("activity collection disabled via config")
