//go:build !windows

package main

import "errors"

// Service stubs for non-Windows platforms

func runService(string) error {
	return errors.New("-service is only supported on Windows; use systemd or launchd instead")
}

func handleServiceCommand([]string) bool {
	return false
}
