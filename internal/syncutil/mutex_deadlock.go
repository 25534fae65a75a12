//go:build deadlock

// Package syncutil holds the mutex types used by the exchange client and the
// adapters. This file is compiled with -tags=deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

type Mutex struct {
	deadlock.Mutex
}

type RWMutex struct {
	deadlock.RWMutex
}
