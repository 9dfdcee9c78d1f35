package repository

import (
	"fmt"
	"time"

	"github.com/foxseedlab/pokerbot/internal/kv"
)

// Persisted attribute names. Renaming any of these requires a data migration.
const (
	attrTeamID         = "teamId"
	attrChannelID      = "channelId"
	attrSessionID      = "sessionId"
	attrCreatedBy      = "createdBy"
	attrStatus         = "status"
	attrStoryTitle     = "storyTitle"
	attrStoryURL       = "storyUrl"
	attrScale          = "scale"
	attrMessageTs      = "messageTs"
	attrMessageChannel = "messageChannel"
	attrRevealedAt     = "revealedAt"
	attrCancelledAt    = "cancelledAt"
	attrExpiredAt      = "expiredAt"
	attrCreatedAt      = "createdAt"
	attrUpdatedAt      = "updatedAt"
	attrUserID         = "userId"
	attrInvitedAt      = "invitedAt"
	attrVotedAt        = "votedAt"
	attrVoteValue      = "voteValue"
	attrRequestID      = "slackRequestId"
	attrReceivedAt     = "receivedAt"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(attrs map[string]string, name string) (time.Time, error) {
	raw, ok := attrs[name]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return t, nil
}

func parseOptionalTime(attrs map[string]string, name string) (*time.Time, error) {
	t, err := parseTime(attrs, name)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

func epochOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOfEpoch(epoch int64) time.Time {
	if epoch <= 0 {
		return time.Time{}
	}
	return time.Unix(epoch, 0).UTC()
}

func dedupItem(r DedupRecord) kv.Item {
	return kv.Item{
		Key: DedupKey(r.TeamID, r.RequestID),
		Attrs: map[string]string{
			attrTeamID:     r.TeamID,
			attrRequestID:  r.RequestID,
			attrReceivedAt: formatTime(r.ReceivedAt),
		},
		ExpiresAt: epochOf(r.ExpiresAt),
	}
}

// pointerItem shares the session's expiry so a pointer never outlives the
// session it names.
func pointerItem(p ActiveSessionPointer, expiresAt time.Time) kv.Item {
	return kv.Item{
		Key: ChannelActiveSessionKey(p.TeamID, p.ChannelID),
		Attrs: map[string]string{
			attrTeamID:    p.TeamID,
			attrChannelID: p.ChannelID,
			attrSessionID: p.SessionID,
			attrCreatedAt: formatTime(p.CreatedAt),
		},
		ExpiresAt: epochOf(expiresAt),
	}
}

func sessionMetaItem(m SessionMeta) kv.Item {
	attrs := map[string]string{
		attrSessionID:  m.SessionID,
		attrTeamID:     m.TeamID,
		attrChannelID:  m.ChannelID,
		attrCreatedBy:  m.CreatedBy,
		attrStatus:     string(m.Status),
		attrStoryTitle: m.StoryTitle,
		attrScale:      string(m.Scale),
		attrCreatedAt:  formatTime(m.CreatedAt),
		attrUpdatedAt:  formatTime(m.UpdatedAt),
	}
	if m.StoryURL != "" {
		attrs[attrStoryURL] = m.StoryURL
	}
	return kv.Item{Key: SessionMetaKey(m.SessionID), Attrs: attrs, ExpiresAt: epochOf(m.ExpiresAt)}
}

func sessionMetaFromItem(it kv.Item) (SessionMeta, error) {
	a := it.Attrs
	m := SessionMeta{
		SessionID:      a[attrSessionID],
		TeamID:         a[attrTeamID],
		ChannelID:      a[attrChannelID],
		CreatedBy:      a[attrCreatedBy],
		Status:         SessionStatus(a[attrStatus]),
		StoryTitle:     a[attrStoryTitle],
		StoryURL:       a[attrStoryURL],
		Scale:          Scale(a[attrScale]),
		MessageChannel: a[attrMessageChannel],
		MessageTs:      a[attrMessageTs],
		ExpiresAt:      timeOfEpoch(it.ExpiresAt),
	}
	var err error
	if m.CreatedAt, err = parseTime(a, attrCreatedAt); err != nil {
		return SessionMeta{}, err
	}
	if m.UpdatedAt, err = parseTime(a, attrUpdatedAt); err != nil {
		return SessionMeta{}, err
	}
	if m.RevealedAt, err = parseOptionalTime(a, attrRevealedAt); err != nil {
		return SessionMeta{}, err
	}
	if m.CancelledAt, err = parseOptionalTime(a, attrCancelledAt); err != nil {
		return SessionMeta{}, err
	}
	if m.ExpiredAt, err = parseOptionalTime(a, attrExpiredAt); err != nil {
		return SessionMeta{}, err
	}
	return m, nil
}

func participantItem(p Participant, expiresAt time.Time) kv.Item {
	attrs := map[string]string{
		attrSessionID: p.SessionID,
		attrUserID:    p.UserID,
		attrInvitedAt: formatTime(p.InvitedAt),
	}
	if p.VotedAt != nil {
		attrs[attrVotedAt] = formatTime(*p.VotedAt)
	}
	return kv.Item{Key: ParticipantKey(p.SessionID, p.UserID), Attrs: attrs, ExpiresAt: epochOf(expiresAt)}
}

func participantFromItem(it kv.Item) (Participant, error) {
	p := Participant{
		SessionID: it.Attrs[attrSessionID],
		UserID:    it.Attrs[attrUserID],
	}
	var err error
	if p.InvitedAt, err = parseTime(it.Attrs, attrInvitedAt); err != nil {
		return Participant{}, err
	}
	if p.VotedAt, err = parseOptionalTime(it.Attrs, attrVotedAt); err != nil {
		return Participant{}, err
	}
	return p, nil
}

func voteItem(v Vote, expiresAt time.Time) kv.Item {
	return kv.Item{
		Key: VoteKey(v.SessionID, v.UserID),
		Attrs: map[string]string{
			attrSessionID: v.SessionID,
			attrUserID:    v.UserID,
			attrVoteValue: v.Value,
			attrCreatedAt: formatTime(v.CreatedAt),
			attrUpdatedAt: formatTime(v.UpdatedAt),
		},
		ExpiresAt: epochOf(expiresAt),
	}
}

func voteFromItem(it kv.Item) (Vote, error) {
	v := Vote{
		SessionID: it.Attrs[attrSessionID],
		UserID:    it.Attrs[attrUserID],
		Value:     it.Attrs[attrVoteValue],
	}
	var err error
	if v.CreatedAt, err = parseTime(it.Attrs, attrCreatedAt); err != nil {
		return Vote{}, err
	}
	if v.UpdatedAt, err = parseTime(it.Attrs, attrUpdatedAt); err != nil {
		return Vote{}, err
	}
	return v, nil
}
