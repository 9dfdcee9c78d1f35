package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	SessionID  string
	TeamID     string
	ChannelID  string
	CreatedBy  string
	StoryTitle string
	StoryURL   string
	Scale      Scale
	Roster     []string
	// ExpiresAt, when non-zero, lets the store drop the session records
	// after that instant.
	ExpiresAt time.Time
}

type UpdateSessionMessageInput struct {
	SessionID      string
	MessageChannel string
	MessageTs      string
}

type DedupRepository interface {
	// RecordDedup returns true the first time (teamID, requestID) is seen
	// before expiresAt and false for every later call.
	RecordDedup(ctx context.Context, teamID, requestID string, expiresAt time.Time) (bool, error)
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) error
	UpdateSessionMessage(ctx context.Context, input UpdateSessionMessageInput) error
	CastVote(ctx context.Context, sessionID, userID, value string) error
	Reveal(ctx context.Context, sessionID, teamID, channelID string) error
	Cancel(ctx context.Context, sessionID, teamID, channelID string) error
	Expire(ctx context.Context, sessionID, teamID, channelID string) error
	GetSessionMeta(ctx context.Context, sessionID string) (*SessionMeta, error)
	GetSessionBundle(ctx context.Context, sessionID string) (*SessionBundle, error)
	GetActiveSessionID(ctx context.Context, teamID, channelID string) (string, error)
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)
	ListVotes(ctx context.Context, sessionID string) ([]Vote, error)
}

type Repository interface {
	DedupRepository
	SessionRepository
}
