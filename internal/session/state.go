package session

// State is the session state machine's current position. Transitions
// happen only on the control goroutine.
type State int32

const (
	// Stopped: no streaming, device closed.
	Stopped State = iota
	// PreviewStill: preview streaming for still-capture framing.
	PreviewStill
	// PreviewVideo: preview streaming with the recording hint set.
	PreviewVideo
	// Recording: video capture with a live preview.
	Recording
	// Capture: still capture in flight, preview stopped.
	Capture
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case PreviewStill:
		return "preview_still"
	case PreviewVideo:
		return "preview_video"
	case Recording:
		return "recording"
	case Capture:
		return "capture"
	default:
		return "unknown"
	}
}

var allStateNames = []string{
	Stopped.String(),
	PreviewStill.String(),
	PreviewVideo.String(),
	Recording.String(),
	Capture.String(),
}

// previewing reports whether a preview stream is running.
func (s State) previewing() bool {
	return s == PreviewStill || s == PreviewVideo || s == Recording
}

// videoStream reports whether frames are coupled for two consumers.
func (s State) videoStream() bool {
	return s == PreviewVideo || s == Recording
}
