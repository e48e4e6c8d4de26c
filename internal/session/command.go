package session

import (
	"time"

	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/params"
)

// Kind keys the reply slots and message matching. One value per
// command variant.
type Kind int

const (
	KindExit Kind = iota
	KindStartPreview
	KindStopPreview
	KindStartRecording
	KindStopRecording
	KindTakePicture
	KindCancelPicture
	KindAutoFocus
	KindCancelAutoFocus
	KindReleaseRecordingFrame
	KindRecordingFlushed
	KindSetParameters
	KindGetParameters
	KindPreviewDone
	KindPictureDone
	KindFacesDetected
	KindStartFaceDetection
	KindStopFaceDetection
)

func (k Kind) String() string {
	switch k {
	case KindExit:
		return "exit"
	case KindStartPreview:
		return "start_preview"
	case KindStopPreview:
		return "stop_preview"
	case KindStartRecording:
		return "start_recording"
	case KindStopRecording:
		return "stop_recording"
	case KindTakePicture:
		return "take_picture"
	case KindCancelPicture:
		return "cancel_picture"
	case KindAutoFocus:
		return "auto_focus"
	case KindCancelAutoFocus:
		return "cancel_auto_focus"
	case KindReleaseRecordingFrame:
		return "release_recording_frame"
	case KindRecordingFlushed:
		return "recording_flushed"
	case KindSetParameters:
		return "set_parameters"
	case KindGetParameters:
		return "get_parameters"
	case KindPreviewDone:
		return "preview_done"
	case KindPictureDone:
		return "picture_done"
	case KindFacesDetected:
		return "faces_detected"
	case KindStartFaceDetection:
		return "start_face_detection"
	case KindStopFaceDetection:
		return "stop_face_detection"
	default:
		return "unknown"
	}
}

// command is the tagged message variant the control goroutine
// consumes. Each variant carries exactly the data its handler needs.
type command interface {
	kind() Kind
}

type exitCmd struct{}

func (exitCmd) kind() Kind { return KindExit }

type startPreviewCmd struct{}

func (startPreviewCmd) kind() Kind { return KindStartPreview }

type stopPreviewCmd struct{}

func (stopPreviewCmd) kind() Kind { return KindStopPreview }

type startRecordingCmd struct{}

func (startRecordingCmd) kind() Kind { return KindStartRecording }

type stopRecordingCmd struct{}

func (stopRecordingCmd) kind() Kind { return KindStopRecording }

type takePictureCmd struct{}

func (takePictureCmd) kind() Kind { return KindTakePicture }

type cancelPictureCmd struct{}

func (cancelPictureCmd) kind() Kind { return KindCancelPicture }

type autoFocusCmd struct{}

func (autoFocusCmd) kind() Kind { return KindAutoFocus }

type cancelAutoFocusCmd struct{}

func (cancelAutoFocusCmd) kind() Kind { return KindCancelAutoFocus }

type releaseRecordingFrameCmd struct {
	handle []byte
}

func (releaseRecordingFrameCmd) kind() Kind { return KindReleaseRecordingFrame }

type recordingFlushedCmd struct {
	buf *device.Buffer
}

func (recordingFlushedCmd) kind() Kind { return KindRecordingFlushed }

type setParametersCmd struct {
	set *params.Set
}

func (setParametersCmd) kind() Kind { return KindSetParameters }

// getParametersCmd carries the destination set; the sender blocks on
// the reply, so the handler may write into it directly.
type getParametersCmd struct {
	out *params.Set
}

func (getParametersCmd) kind() Kind { return KindGetParameters }

type previewDoneCmd struct {
	buf *device.Buffer
}

func (previewDoneCmd) kind() Kind { return KindPreviewDone }

type pictureDoneCmd struct {
	snapshot *device.Buffer
	postview *device.Buffer
	jpeg     []byte
	finished time.Time
}

func (pictureDoneCmd) kind() Kind { return KindPictureDone }

type facesDetectedCmd struct {
	count int
	buf   *device.Buffer
}

func (facesDetectedCmd) kind() Kind { return KindFacesDetected }

type startFaceDetectionCmd struct{}

func (startFaceDetectionCmd) kind() Kind { return KindStartFaceDetection }

type stopFaceDetectionCmd struct{}

func (stopFaceDetectionCmd) kind() Kind { return KindStopFaceDetection }
