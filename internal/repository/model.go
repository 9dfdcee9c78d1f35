package repository

import (
	"slices"
	"time"
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusRevealed  SessionStatus = "REVEALED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
	SessionStatusExpired   SessionStatus = "EXPIRED"
)

// CanTransitionTo reports whether next may follow s. Only ACTIVE sessions
// move, and only to one of the terminal statuses.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s != SessionStatusActive {
		return false
	}
	switch next {
	case SessionStatusRevealed, SessionStatusCancelled, SessionStatusExpired:
		return true
	default:
		return false
	}
}

func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusRevealed, SessionStatusCancelled, SessionStatusExpired:
		return true
	default:
		return false
	}
}

type Scale string

const (
	ScaleFibonacci Scale = "FIBONACCI"
	ScaleTShirt    Scale = "TSHIRT"
	ScaleCustom    Scale = "CUSTOM"
)

const maxCustomVoteLength = 16

var scaleValues = map[Scale][]string{
	ScaleFibonacci: {"0", "1", "2", "3", "5", "8", "13", "21", "?"},
	ScaleTShirt:    {"XS", "S", "M", "L", "XL", "?"},
}

func ParseScale(s string) (Scale, bool) {
	switch Scale(s) {
	case ScaleFibonacci, ScaleTShirt, ScaleCustom:
		return Scale(s), true
	default:
		return "", false
	}
}

// Values returns the selectable cards of the scale, nil for CUSTOM.
func (s Scale) Values() []string {
	return slices.Clone(scaleValues[s])
}

func (s Scale) Accepts(value string) bool {
	if s == ScaleCustom {
		return value != "" && len(value) <= maxCustomVoteLength
	}
	return slices.Contains(scaleValues[s], value)
}

type DedupRecord struct {
	TeamID     string
	RequestID  string
	ReceivedAt time.Time
	ExpiresAt  time.Time
}

type ActiveSessionPointer struct {
	TeamID    string
	ChannelID string
	SessionID string
	CreatedAt time.Time
}

type SessionMeta struct {
	SessionID      string
	TeamID         string
	ChannelID      string
	CreatedBy      string
	Status         SessionStatus
	StoryTitle     string
	StoryURL       string
	Scale          Scale
	MessageChannel string
	MessageTs      string
	RevealedAt     *time.Time
	CancelledAt    *time.Time
	ExpiredAt      *time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Participant struct {
	SessionID string
	UserID    string
	InvitedAt time.Time
	VotedAt   *time.Time
}

func (p Participant) HasVoted() bool {
	return p.VotedAt != nil
}

type Vote struct {
	SessionID string
	UserID    string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SessionBundle struct {
	Session      SessionMeta
	Participants []Participant
	Votes        []Vote
}

// Quorum counts participants that have voted. It is derived from votedAt on
// every call and never stored.
func (b *SessionBundle) Quorum() (voted, total int) {
	for _, p := range b.Participants {
		if p.HasVoted() {
			voted++
		}
	}
	return voted, len(b.Participants)
}

func (b *SessionBundle) HasQuorum() bool {
	voted, total := b.Quorum()
	return total > 0 && voted == total
}

// PendingUserIDs lists participants that have not voted yet.
func (b *SessionBundle) PendingUserIDs() []string {
	var ids []string
	for _, p := range b.Participants {
		if !p.HasVoted() {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// VoteTally groups votes by value, preserving first-seen order of values.
type VoteTally struct {
	Value   string
	UserIDs []string
}

func (b *SessionBundle) Tally() []VoteTally {
	var tally []VoteTally
	index := make(map[string]int)
	for _, v := range b.Votes {
		i, ok := index[v.Value]
		if !ok {
			i = len(tally)
			index[v.Value] = i
			tally = append(tally, VoteTally{Value: v.Value})
		}
		tally[i].UserIDs = append(tally[i].UserIDs, v.UserID)
	}
	return tally
}
