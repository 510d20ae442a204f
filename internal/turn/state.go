package turn

// State is the conversation floor-control state
type State int32

const (
	Idle State = iota
	Listening
	UserSpeaking
	Processing
	AiSpeaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case UserSpeaking:
		return "user_speaking"
	case Processing:
		return "processing"
	case AiSpeaking:
		return "ai_speaking"
	default:
		return "unknown"
	}
}
