package webui

import "errors"

var (
	// ErrAuthenticationFailed means the console rejected the maintenance login.
	ErrAuthenticationFailed = errors.New("webui: authentication failed")
	// ErrParseFailed means the counters page did not contain a recognizable tray table.
	ErrParseFailed = errors.New("webui: counters page did not match expected structure")
	// ErrOffline means the console could not be reached at all.
	ErrOffline = errors.New("webui: console offline")
)
