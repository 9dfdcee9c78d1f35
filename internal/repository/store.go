package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/pokerbot/internal/kv"
)

// Store implements Repository on top of a kv.Client. Every invariant that
// spans records is one kv transaction; the store keeps no locks of its own.
type Store struct {
	client kv.Client
	now    func() time.Time
}

var _ Repository = (*Store)(nil)

type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(client kv.Client, opts ...StoreOption) *Store {
	s := &Store{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) RecordDedup(ctx context.Context, teamID, requestID string, expiresAt time.Time) (bool, error) {
	if err := checkIdentifiers(teamID, requestID); err != nil {
		return false, err
	}
	item := dedupItem(DedupRecord{
		TeamID:     teamID,
		RequestID:  requestID,
		ReceivedAt: s.now(),
		ExpiresAt:  expiresAt,
	})
	if err := s.client.Put(ctx, item, kv.NotExists()); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("record dedup %s/%s: %w", teamID, requestID, err)
	}
	return true, nil
}

func (s *Store) CreateSession(ctx context.Context, input CreateSessionInput) error {
	if err := checkIdentifiers(input.SessionID, input.TeamID, input.ChannelID, input.CreatedBy); err != nil {
		return err
	}
	if _, ok := ParseScale(string(input.Scale)); !ok {
		return fmt.Errorf("unknown scale %q", input.Scale)
	}
	roster := uniqueRoster(input.Roster)
	if err := checkIdentifiers(roster...); err != nil {
		return err
	}
	if len(roster) > MaxRosterSize {
		return fmt.Errorf("%w: %d participants, at most %d", ErrRosterTooLarge, len(roster), MaxRosterSize)
	}

	now := s.now()
	meta := SessionMeta{
		SessionID:  input.SessionID,
		TeamID:     input.TeamID,
		ChannelID:  input.ChannelID,
		CreatedBy:  input.CreatedBy,
		Status:     SessionStatusActive,
		StoryTitle: input.StoryTitle,
		StoryURL:   input.StoryURL,
		Scale:      input.Scale,
		ExpiresAt:  input.ExpiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	pointer := ActiveSessionPointer{
		TeamID:    input.TeamID,
		ChannelID: input.ChannelID,
		SessionID: input.SessionID,
		CreatedAt: now,
	}

	ops := make([]kv.Op, 0, len(roster)+2)
	ops = append(ops,
		kv.PutOp(sessionMetaItem(meta), kv.NotExists()),
		kv.PutOp(pointerItem(pointer, input.ExpiresAt), kv.NotExists()),
	)
	for _, userID := range roster {
		p := Participant{SessionID: input.SessionID, UserID: userID, InvitedAt: now}
		ops = append(ops, kv.PutOp(participantItem(p, input.ExpiresAt), kv.NotExists()))
	}

	if err := s.client.Transact(ctx, ops); err != nil {
		var cf *kv.ConditionFailedError
		if errors.As(err, &cf) {
			return fmt.Errorf("%w: %s", ErrConflict, createConflictReason(cf.Index))
		}
		return fmt.Errorf("create session %s: %w", input.SessionID, err)
	}
	return nil
}

func createConflictReason(index int) string {
	switch index {
	case 0:
		return "session id already exists"
	case 1:
		return "channel already has an active session"
	default:
		return "participant record already exists"
	}
}

func (s *Store) UpdateSessionMessage(ctx context.Context, input UpdateSessionMessageInput) error {
	if err := checkIdentifiers(input.SessionID); err != nil {
		return err
	}
	set := map[string]string{
		attrMessageChannel: input.MessageChannel,
		attrMessageTs:      input.MessageTs,
		attrUpdatedAt:      formatTime(s.now()),
	}
	op := kv.UpdateOp(SessionMetaKey(input.SessionID), set, kv.Exists())
	if err := s.client.Transact(ctx, []kv.Op{op}); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return fmt.Errorf("session %s: %w", input.SessionID, ErrNotFound)
		}
		return fmt.Errorf("update session message %s: %w", input.SessionID, err)
	}
	return nil
}

// maxVoteAttempts bounds the read-modify-write loop of CastVote when the same
// user's vote keeps changing underneath it.
const maxVoteAttempts = 5

// CastVote upserts the vote and stamps the participant's votedAt together.
// The participant must exist, so a vote from outside the roster is never
// written. The vote takes the participant's expiry so it can never outlive
// it, and a re-vote keeps the first createdAt. Callers check that the
// session is ACTIVE beforehand.
func (s *Store) CastVote(ctx context.Context, sessionID, userID, value string) error {
	if err := checkIdentifiers(sessionID, userID); err != nil {
		return err
	}
	for range maxVoteAttempts {
		err := s.castVoteOnce(ctx, sessionID, userID, value)
		var cf *kv.ConditionFailedError
		if !errors.As(err, &cf) || cf.Index != 0 {
			return err
		}
	}
	return fmt.Errorf("cast vote %s/%s: vote kept changing: %w", sessionID, userID, ErrTransient)
}

// castVoteOnce returns the raw *kv.ConditionFailedError when the vote item
// changed since it was read, so CastVote can try again.
func (s *Store) castVoteOnce(ctx context.Context, sessionID, userID, value string) error {
	participant, err := s.client.Get(ctx, ParticipantKey(sessionID, userID))
	if err != nil {
		return fmt.Errorf("cast vote %s/%s: %w", sessionID, userID, err)
	}
	if participant == nil {
		return fmt.Errorf("participant %s in session %s: %w", userID, sessionID, ErrNotFound)
	}
	current, err := s.client.Get(ctx, VoteKey(sessionID, userID))
	if err != nil {
		return fmt.Errorf("cast vote %s/%s: %w", sessionID, userID, err)
	}

	now := s.now()
	vote := Vote{SessionID: sessionID, UserID: userID, Value: value, CreatedAt: now, UpdatedAt: now}
	voteCond := kv.NotExists()
	if current != nil {
		voteCond = kv.AttrEquals(attrCreatedAt, current.Attrs[attrCreatedAt])
		if vote.CreatedAt, err = parseTime(current.Attrs, attrCreatedAt); err != nil {
			return fmt.Errorf("decode vote %s/%s: %w", sessionID, userID, err)
		}
	}
	ops := []kv.Op{
		kv.PutOp(voteItem(vote, timeOfEpoch(participant.ExpiresAt)), voteCond),
		kv.UpdateOp(ParticipantKey(sessionID, userID), map[string]string{attrVotedAt: formatTime(now)}, kv.Exists()),
	}
	err = s.client.Transact(ctx, ops)
	if err == nil {
		return nil
	}
	var cf *kv.ConditionFailedError
	if errors.As(err, &cf) {
		if cf.Index == 0 {
			return cf
		}
		return fmt.Errorf("participant %s in session %s: %w", userID, sessionID, ErrNotFound)
	}
	return fmt.Errorf("cast vote %s/%s: %w", sessionID, userID, err)
}

func (s *Store) Reveal(ctx context.Context, sessionID, teamID, channelID string) error {
	return s.transition(ctx, sessionID, teamID, channelID, SessionStatusRevealed, attrRevealedAt)
}

func (s *Store) Cancel(ctx context.Context, sessionID, teamID, channelID string) error {
	return s.transition(ctx, sessionID, teamID, channelID, SessionStatusCancelled, attrCancelledAt)
}

func (s *Store) Expire(ctx context.Context, sessionID, teamID, channelID string) error {
	return s.transition(ctx, sessionID, teamID, channelID, SessionStatusExpired, attrExpiredAt)
}

// transition moves an ACTIVE session to a terminal status and frees the
// channel in the same transaction.
func (s *Store) transition(ctx context.Context, sessionID, teamID, channelID string, to SessionStatus, stampAttr string) error {
	if err := checkIdentifiers(sessionID, teamID, channelID); err != nil {
		return err
	}
	if !SessionStatusActive.CanTransitionTo(to) {
		return fmt.Errorf("invalid transition to %s", to)
	}
	ts := formatTime(s.now())
	ops := []kv.Op{
		kv.UpdateOp(SessionMetaKey(sessionID), map[string]string{
			attrStatus:    string(to),
			stampAttr:     ts,
			attrUpdatedAt: ts,
		}, kv.AttrEquals(attrStatus, string(SessionStatusActive))),
		kv.DeleteOp(ChannelActiveSessionKey(teamID, channelID), nil),
	}
	err := s.client.Transact(ctx, ops)
	if err == nil {
		return nil
	}
	if !errors.Is(err, kv.ErrConditionFailed) {
		return fmt.Errorf("%s session %s: %w", strings.ToLower(string(to)), sessionID, err)
	}

	meta, getErr := s.GetSessionMeta(ctx, sessionID)
	switch {
	case errors.Is(getErr, ErrNotFound):
		return getErr
	case getErr != nil:
		// The guard failed either way; report it as not active.
		return fmt.Errorf("session %s: %w", sessionID, ErrNotActive)
	default:
		return fmt.Errorf("session %s is %s: %w", sessionID, meta.Status, ErrNotActive)
	}
}

func (s *Store) GetSessionMeta(ctx context.Context, sessionID string) (*SessionMeta, error) {
	if err := checkIdentifiers(sessionID); err != nil {
		return nil, err
	}
	it, err := s.client.Get(ctx, SessionMetaKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if it == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	meta, err := sessionMetaFromItem(*it)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &meta, nil
}

func (s *Store) GetSessionBundle(ctx context.Context, sessionID string) (*SessionBundle, error) {
	if err := checkIdentifiers(sessionID); err != nil {
		return nil, err
	}
	items, err := s.client.Query(ctx, sessionPartition(sessionID), "")
	if err != nil {
		return nil, fmt.Errorf("query session %s: %w", sessionID, err)
	}
	var (
		bundle  SessionBundle
		hasMeta bool
	)
	for _, it := range items {
		switch {
		case it.SK == skMeta:
			if bundle.Session, err = sessionMetaFromItem(it); err != nil {
				return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
			}
			hasMeta = true
		case strings.HasPrefix(it.SK, skParticipantPrefix):
			p, err := participantFromItem(it)
			if err != nil {
				return nil, fmt.Errorf("decode participant %s: %w", it.SK, err)
			}
			bundle.Participants = append(bundle.Participants, p)
		case strings.HasPrefix(it.SK, skVotePrefix):
			v, err := voteFromItem(it)
			if err != nil {
				return nil, fmt.Errorf("decode vote %s: %w", it.SK, err)
			}
			bundle.Votes = append(bundle.Votes, v)
		}
	}
	if !hasMeta {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return &bundle, nil
}

// GetActiveSessionID returns "" when the channel has no active session.
func (s *Store) GetActiveSessionID(ctx context.Context, teamID, channelID string) (string, error) {
	if err := checkIdentifiers(teamID, channelID); err != nil {
		return "", err
	}
	it, err := s.client.Get(ctx, ChannelActiveSessionKey(teamID, channelID))
	if err != nil {
		return "", fmt.Errorf("get active session %s/%s: %w", teamID, channelID, err)
	}
	if it == nil {
		return "", nil
	}
	return it.Attrs[attrSessionID], nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]Participant, error) {
	if err := checkIdentifiers(sessionID); err != nil {
		return nil, err
	}
	items, err := s.client.Query(ctx, sessionPartition(sessionID), skParticipantPrefix)
	if err != nil {
		return nil, fmt.Errorf("list participants %s: %w", sessionID, err)
	}
	list := make([]Participant, 0, len(items))
	for _, it := range items {
		p, err := participantFromItem(it)
		if err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", it.SK, err)
		}
		list = append(list, p)
	}
	return list, nil
}

func (s *Store) ListVotes(ctx context.Context, sessionID string) ([]Vote, error) {
	if err := checkIdentifiers(sessionID); err != nil {
		return nil, err
	}
	items, err := s.client.Query(ctx, sessionPartition(sessionID), skVotePrefix)
	if err != nil {
		return nil, fmt.Errorf("list votes %s: %w", sessionID, err)
	}
	list := make([]Vote, 0, len(items))
	for _, it := range items {
		v, err := voteFromItem(it)
		if err != nil {
			return nil, fmt.Errorf("decode vote %s: %w", it.SK, err)
		}
		list = append(list, v)
	}
	return list, nil
}

func checkIdentifiers(ids ...string) error {
	for _, id := range ids {
		if !validIdentifier(id) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
		}
	}
	return nil
}

func uniqueRoster(roster []string) []string {
	seen := make(map[string]struct{}, len(roster))
	out := make([]string, 0, len(roster))
	for _, id := range roster {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
