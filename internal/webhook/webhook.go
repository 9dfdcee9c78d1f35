package webhook

import (
	"context"
	"time"
)

type RevealVote struct {
	UserID string `json:"user_id"`
	Value  string `json:"value"`
}

// RevealPayload is posted once per session when its votes are revealed.
type RevealPayload struct {
	SessionID        string       `json:"session_id"`
	TeamID           string       `json:"team_id"`
	ChannelID        string       `json:"channel_id"`
	StoryTitle       string       `json:"story_title"`
	StoryURL         string       `json:"story_url,omitempty"`
	Scale            string       `json:"scale"`
	Facilitator      string       `json:"facilitator"`
	RevealedAt       time.Time    `json:"revealed_at"`
	ParticipantCount int          `json:"participant_count"`
	Votes            []RevealVote `json:"votes"`
}

type Sender interface {
	SendRevealResult(ctx context.Context, payload RevealPayload) error
}
