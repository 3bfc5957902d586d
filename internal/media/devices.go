package media

import (
	"github.com/pion/mediadevices"

	// Register the capture drivers. The blank imports are what makes
	// cameras, microphones and screens visible to GetUserMedia /
	// GetDisplayMedia.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

// Devices lists the capture devices currently visible to the agent.
// Used by the CLI to report what a call would capture.
func Devices() []mediadevices.MediaDeviceInfo {
	return mediadevices.EnumerateDevices()
}
