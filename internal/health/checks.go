package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/facechat/internal/resilience"
)

// ErrNoDeviceHost is reported while no browser page is attached.
var ErrNoDeviceHost = errors.New("no device host connected")

// DeviceHost reports whether a device host is attached. It is optional: a
// server without a host is waiting for one, not broken.
func DeviceHost(connected func() bool) Checker {
	return Checker{
		Name:     "device_host",
		Optional: true,
		Check: func(context.Context) error {
			if !connected() {
				return ErrNoDeviceHost
			}
			return nil
		},
	}
}

// Breakers fails while any of the given collaborator circuit breakers is
// open. Half-open breakers are probing and count as healthy.
func Breakers(breakers ...*resilience.CircuitBreaker) Checker {
	return Checker{
		Name: "collaborators",
		Check: func(context.Context) error {
			var open []string
			for _, cb := range breakers {
				if cb.State() == resilience.StateOpen {
					open = append(open, cb.Name())
				}
			}
			if len(open) > 0 {
				return fmt.Errorf("circuit open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}
