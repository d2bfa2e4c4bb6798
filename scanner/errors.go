package scanner

import "errors"

var (
	// ErrUnreachable means no management port answered the connectivity probe.
	ErrUnreachable = errors.New("device unreachable")
	// ErrProtocolExhausted means every SNMP version/credential/profile combination failed.
	ErrProtocolExhausted = errors.New("snmp: all version and profile combinations exhausted")
	// ErrNoResponse is the polling-side name for ErrProtocolExhausted.
	ErrNoResponse = ErrProtocolExhausted
	// ErrPartialData means counters resolved but some attributes did not.
	ErrPartialData = errors.New("snmp: partial data")
)
