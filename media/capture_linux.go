//go:build linux

package media

import (
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

var (
	selectorOnce sync.Once
	selector     *mediadevices.CodecSelector
	selectorErr  error
)

func codecSelector() (*mediadevices.CodecSelector, error) {
	selectorOnce.Do(func() {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			selectorErr = err
			return
		}
		vpxParams.BitRate = 1_000_000

		opusParams, err := opus.NewParams()
		if err != nil {
			selectorErr = err
			return
		}

		selector = mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		)
	})
	return selector, selectorErr
}

// captureTrack opens one local capture device (V4L2 camera or malgo
// microphone).
func captureTrack(kind TrackKind) (*localTrack, error) {
	sel, err := codecSelector()
	if err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: sel}
	if kind == TrackVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG camera nodes can poison the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	} else {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media (%s): %w", kind, err)
	}

	var track mediadevices.Track
	if kind == TrackVideo {
		if tracks := stream.GetVideoTracks(); len(tracks) > 0 {
			track = tracks[0]
		}
	} else {
		if tracks := stream.GetAudioTracks(); len(tracks) > 0 {
			track = tracks[0]
		}
	}
	if track == nil {
		return nil, fmt.Errorf("no %s capture device available", kind)
	}

	return &localTrack{kind: kind, rtp: track, stop: track.Close}, nil
}

func populateMediaEngine(me *webrtc.MediaEngine) error {
	sel, err := codecSelector()
	if err != nil {
		return err
	}
	sel.Populate(me)
	return nil
}
