//go:build !deadlock

// Package syncutil holds the mutex types used by the exchange client and the
// adapters. Build with -tags=deadlock to swap in github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}
