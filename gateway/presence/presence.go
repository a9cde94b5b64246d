// Package presence builds and validates the activity/presence payloads a
// gateway.Connection sends to announce what its user is doing (spec.md's
// component J). It is deliberately independent of package gateway: nothing
// here knows about opcodes or transports, only about the shape of a valid
// activity.
package presence

import (
	"encoding/json"
	"fmt"
)

// ActivityType mirrors the small enumeration Discord-style gateways use to
// pick how a client renders an activity.
type ActivityType int

const (
	ActivityPlaying ActivityType = iota
	ActivityStreaming
	ActivityListening
	ActivityWatching
	ActivityCustom
	ActivityCompeting
)

func (t ActivityType) valid() bool {
	return t >= ActivityPlaying && t <= ActivityCompeting
}

// Activity is one entry in a presence update's activities list.
type Activity struct {
	Name    string       `json:"name"`
	Type    ActivityType `json:"type"`
	State   string       `json:"state,omitempty"`
	Details string       `json:"details,omitempty"`
	URL     string       `json:"url,omitempty"`
}

const (
	maxNameLen    = 128
	maxStateLen   = 128
	maxDetailsLen = 128
)

// Validate checks a's fields against the same limits Discord-style clients
// enforce client-side, so a malformed activity is rejected before it is
// ever sent.
func (a Activity) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("presence: activity name is required")
	}
	if len(a.Name) > maxNameLen {
		return fmt.Errorf("presence: activity name exceeds %d characters", maxNameLen)
	}
	if len(a.State) > maxStateLen {
		return fmt.Errorf("presence: activity state exceeds %d characters", maxStateLen)
	}
	if len(a.Details) > maxDetailsLen {
		return fmt.Errorf("presence: activity details exceeds %d characters", maxDetailsLen)
	}
	if !a.Type.valid() {
		return fmt.Errorf("presence: unknown activity type %d", a.Type)
	}
	if a.Type == ActivityStreaming && a.URL == "" {
		return fmt.Errorf("presence: streaming activity requires a url")
	}
	return nil
}

// Status is the coarse online/idle/dnd/invisible indicator that
// accompanies an activity list.
type Status string

const (
	StatusOnline       Status = "online"
	StatusIdle         Status = "idle"
	StatusDoNotDisturb Status = "dnd"
	StatusInvisible    Status = "invisible"
)

func (s Status) valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDoNotDisturb, StatusInvisible:
		return true
	default:
		return false
	}
}

// Update is the full outbound presence-update payload.
type Update struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     Status     `json:"status"`
	AFK        bool       `json:"afk"`
}

// Validate checks every activity and the status enum. An Update with no
// activities (clearing presence) is valid.
func (u Update) Validate() error {
	if !u.Status.valid() {
		return fmt.Errorf("presence: unknown status %q", u.Status)
	}
	for i, a := range u.Activities {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("presence: activity %d: %w", i, err)
		}
	}
	return nil
}

// Builder accumulates activities fluently before producing a validated
// Update.
type Builder struct {
	status     Status
	afk        bool
	since      *int64
	activities []Activity
}

// NewBuilder starts a Builder with status (defaulting to StatusOnline if
// empty).
func NewBuilder(status Status) *Builder {
	if status == "" {
		status = StatusOnline
	}
	return &Builder{status: status}
}

// WithActivity appends one activity.
func (b *Builder) WithActivity(a Activity) *Builder {
	b.activities = append(b.activities, a)
	return b
}

// WithAFK sets the afk flag.
func (b *Builder) WithAFK(afk bool) *Builder {
	b.afk = afk
	return b
}

// WithSince sets the since-ms-epoch timestamp (idle-since marker).
func (b *Builder) WithSince(sinceMS int64) *Builder {
	b.since = &sinceMS
	return b
}

// Build validates the accumulated state and returns the finished Update.
func (b *Builder) Build() (Update, error) {
	u := Update{
		Since:      b.since,
		Activities: b.activities,
		Status:     b.status,
		AFK:        b.afk,
	}
	if err := u.Validate(); err != nil {
		return Update{}, err
	}
	return u, nil
}

// MarshalPayload validates u and returns its JSON encoding, ready to embed
// as a gateway.Payload's D field.
func MarshalPayload(u Update) (json.RawMessage, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(u)
}
