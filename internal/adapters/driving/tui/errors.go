package tui

import "errors"

// ErrMissingQueueController is returned when no queue controller is provided.
var ErrMissingQueueController = errors.New("tui: queue controller is required")
