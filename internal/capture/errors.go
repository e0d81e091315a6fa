package capture

import "fmt"

const (
	ErrCodeNotAllowed        = "not-allowed"
	ErrCodeNoSpeech          = "no-speech"
	ErrCodeAudioCapture      = "audio-capture"
	ErrCodeNetwork           = "network"
	ErrCodeAborted           = "aborted"
	ErrCodeServiceNotAllowed = "service-not-allowed"
)

var messages = map[string]string{
	ErrCodeNotAllowed:        "Microphone permission denied. Please allow microphone access in your browser settings.",
	ErrCodeNoSpeech:          "No speech detected. Please try again.",
	ErrCodeAudioCapture:      "No microphone was found. Ensure that a microphone is installed and that microphone settings are configured correctly.",
	ErrCodeNetwork:           "Network communication required for completing the recognition failed.",
	ErrCodeAborted:           "Speech recognition was aborted. Please try again.",
	ErrCodeServiceNotAllowed: "Speech recognition service is not allowed. Please ensure you are online and have permission.",
}

// Message returns the user-facing message for a recognition error code.
func Message(code string) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Speech recognition error: %s", code)
}
