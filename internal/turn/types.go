package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/emmett/companion/internal/playback"
)

// Voice is the voice hint passed to speech synthesis
type Voice string

const (
	VoiceFemale Voice = "female"
	VoiceMale   Voice = "male"
)

// ParseVoice accepts "female" or "male" (any case)
func ParseVoice(s string) (Voice, error) {
	switch Voice(strings.ToLower(strings.TrimSpace(s))) {
	case VoiceFemale, "":
		return VoiceFemale, nil
	case VoiceMale:
		return VoiceMale, nil
	default:
		return "", fmt.Errorf("unknown voice %q (valid: female, male)", s)
	}
}

// Profile configures the companion for one user. The coordinator only reads
// Voice; everything else is handed to the chat client untouched.
type Profile struct {
	Name       string
	Voice      Voice
	Prompt     string
	Attributes map[string]string
}

// EventKind identifies a detector event
type EventKind int

const (
	EventSpeechStarted EventKind = iota
	EventSpeechEnded
	EventPartialText
	EventFinalText
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	case EventPartialText:
		return "partial_text"
	case EventFinalText:
		return "final_text"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// DetectorEvent is emitted by a speech endpoint detector
type DetectorEvent struct {
	Kind EventKind
	Text string
	Err  error
}

// Detector wraps continuous capture and reports speech boundaries and text.
type Detector interface {
	// Start begins capture and delivers events to handle until Stop. Calling
	// Start while running replaces the handler and returns nil.
	Start(ctx context.Context, handle func(DetectorEvent)) error

	// Stop ends capture. It is safe to call when not running.
	Stop() error
}

// ChatRequest is one user utterance sent to the chat backend
type ChatRequest struct {
	SessionID string
	Utterance string
	Profile   Profile
}

// ChatClient turns an utterance into companion text
type ChatClient interface {
	Reply(ctx context.Context, req ChatRequest) (string, error)
}

// SpeechRequest asks for synthesized audio
type SpeechRequest struct {
	SessionID string
	Text      string
	Voice     Voice
}

// Synthesizer turns text into ordered audio chunks
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]playback.Chunk, error)
}

// Player is the audio playback queue as seen by the coordinator
type Player interface {
	Enqueue(chunks ...playback.Chunk) (uint64, error)
	Interrupt()
	HardStop()
	SetCallbacks(cb playback.Callbacks)
}

// Role identifies the speaker of a transcript entry
type Role string

const (
	RoleUser      Role = "user"
	RoleCompanion Role = "companion"
)

// Entry is a transcript line published to presentation layers
type Entry struct {
	SessionID string
	Role      Role
	Text      string
	Partial   bool
	Fallback  bool
}

// Hooks are invoked on the coordinator goroutine. They must return quickly
// and must not call back into the Coordinator.
type Hooks struct {
	OnStateChange     func(from, to State)
	OnSpeakingChanged func(speaking bool)
	OnTranscript      func(entry Entry)
	OnError           func(err error)
}

// Status is a point-in-time view of the coordinator
type Status struct {
	State     State
	SessionID string
	Profile   string
	Utterance string
	Interim   string
	Speaking  bool
	Capturing bool
	Turns     int
	BargeIns  int
	Fallbacks int
	LastError error
}
