// Package main is the entry point for backhaul.
package main

import (
	"errors"
	"os"

	"github.com/mklein/backhaul/internal/services/lock"
	"github.com/mklein/backhaul/internal/services/runner"
)

// Exit codes: 0 success or not-due no-op, 2 validation error, 3 lock
// conflict, 1 anything else. Schedulers key off these.
const (
	exitFailure    = 1
	exitValidation = 2
	exitLocked     = 3
)

func main() {
	err := Execute()
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, lock.ErrAlreadyRunning):
		os.Exit(exitLocked)
	case errors.Is(err, runner.ErrValidation):
		os.Exit(exitValidation)
	default:
		os.Exit(exitFailure)
	}
}
