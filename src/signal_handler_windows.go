//go:build windows
// +build windows

package main

import (
	"os"
)

// Windows has no SIGHUP/SIGUSR equivalents; only interrupt and
// terminate are delivered
func notifyPlatformSignals(ch chan<- os.Signal) {}

func handlePlatformSignal(sig os.Signal, app *application) {}
