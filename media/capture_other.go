//go:build !linux

package media

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Local capture needs the platform drivers (V4L2/malgo) that are only wired
// on Linux; elsewhere the engine can still join receive-only.
func captureTrack(kind TrackKind) (*localTrack, error) {
	return nil, fmt.Errorf("no %s capture driver on this platform", kind)
}

func populateMediaEngine(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}
