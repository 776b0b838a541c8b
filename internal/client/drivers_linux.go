//go:build linux

package client

// Capture drivers register themselves on import. Without them
// GetUserMedia/GetDisplayMedia find no devices and fail at call time.
import (
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)
