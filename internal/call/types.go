package call

import (
	"context"
	"time"
)

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool { return t == CallAudio || t == CallVideo }

type State string

const (
	StateIdle      State = "idle"
	StateCalling   State = "calling"
	StateIncoming  State = "incoming"
	StateConnected State = "connected"
	StateEnded     State = "ended"
)

// VideoMode is what currently feeds the outbound video sender.
type VideoMode string

const (
	VideoNone   VideoMode = "none"
	VideoCamera VideoMode = "camera"
	VideoScreen VideoMode = "screen"
)

type EndReason string

const (
	ReasonHangup   EndReason = "hangup"
	ReasonRemote   EndReason = "remote"
	ReasonRejected EndReason = "rejected"
	ReasonBusy     EndReason = "busy"
	ReasonTimeout  EndReason = "timeout"
	ReasonFailed   EndReason = "failed"
	ReasonShutdown EndReason = "shutdown"
)

// Metadata is the display state a peer shares about itself. Best effort.
type Metadata struct {
	Deafened        bool `json:"deafened"`
	IsScreenSharing bool `json:"isScreenSharing"`
}

// Profile identifies a call partner for display.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ProfileSource resolves partner profiles from the backend data service.
type ProfileSource interface {
	Profile(ctx context.Context, id string) (Profile, error)
}

// Ringer plays the incoming-call ringtone.
type Ringer interface {
	Start(caller Profile)
	Stop()
}

// Notifier surfaces user-visible notices (toasts).
type Notifier interface {
	Notify(level, message string)
}

// Notice levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

type EventType string

const (
	EventIncoming EventType = "incoming"
	EventState    EventType = "state"
	EventMetadata EventType = "metadata"
	EventTrack    EventType = "track"
	EventNotice   EventType = "notice"
)

// Event is published by the Manager for every externally visible change.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Partner   Profile   `json:"partner"`
	CallType  CallType  `json:"call_type,omitempty"`
	State     State     `json:"state,omitempty"`
	Reason    EndReason `json:"reason,omitempty"`
	Remote    *Metadata `json:"remote,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// Record summarises an ended call for the call log.
type Record struct {
	ID          string
	Partner     Profile
	Incoming    bool
	Type        CallType
	Outcome     string
	Reason      EndReason
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}

// Call log outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeMissed    = "missed"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
	OutcomeBusy      = "busy"
	OutcomeFailed    = "failed"
)

// CallLog persists ended calls.
type CallLog interface {
	RecordCall(ctx context.Context, r Record) error
}
