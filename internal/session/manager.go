package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/foxseedlab/pokerbot/internal/config"
	"github.com/foxseedlab/pokerbot/internal/discord"
	"github.com/foxseedlab/pokerbot/internal/repository"
	"github.com/foxseedlab/pokerbot/internal/webhook"
	"github.com/google/uuid"
)

const (
	commandPoker       = "poker"
	commandPokerVote   = "poker-vote"
	commandPokerStatus = "poker-status"

	optionStory        = "story"
	optionURL          = "url"
	optionScale        = "scale"
	optionParticipants = "participants"
	optionValue        = "value"

	customIDVote   = "poker_vote"
	customIDReveal = "poker_reveal"
	customIDCancel = "poker_cancel"

	storeMaxTries      = 4
	interactionTimeout = 10 * time.Second
)

// Manager turns Discord interactions into session store operations. It keeps
// no session state of its own; every decision is made against the store.
type Manager struct {
	cfg     *config.Config
	repo    repository.Repository
	discord discord.Client
	webhook webhook.Sender

	now          func() time.Time
	newSessionID func() (string, error)
	newBackOff   func() backoff.BackOff

	botUserID string
}

func NewManager(cfg *config.Config, repo repository.Repository, dc discord.Client, wh webhook.Sender) *Manager {
	return &Manager{
		cfg:          cfg,
		repo:         repo,
		discord:      dc,
		webhook:      wh,
		now:          time.Now,
		newSessionID: newSessionID,
		newBackOff:   newStoreBackOff,
	}
}

func newSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func newStoreBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// SetBotUserID keeps the bot out of rosters built from mentions.
func (m *Manager) SetBotUserID(userID string) {
	m.botUserID = userID
}

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{
			Name:        commandPoker,
			Description: slashCommandPokerDescription,
			Options: []discord.SlashCommandOption{
				{Name: optionStory, Description: optionStoryDescription, Required: true},
				{Name: optionParticipants, Description: optionParticipantsDescription, Required: true},
				{Name: optionURL, Description: optionURLDescription},
				{
					Name:        optionScale,
					Description: optionScaleDescription,
					Choices:     []string{string(repository.ScaleFibonacci), string(repository.ScaleTShirt), string(repository.ScaleCustom)},
				},
			},
		},
		{
			Name:        commandPokerVote,
			Description: slashCommandPokerVoteDescription,
			Options: []discord.SlashCommandOption{
				{Name: optionValue, Description: optionValueDescription, Required: true},
			},
		},
		{
			Name:        commandPokerStatus,
			Description: slashCommandPokerStatusDescription,
		},
	}
}

func (m *Manager) HandleSlashCommand(event discord.SlashCommandEvent) {
	slog.Info("slash command received", "guild_id", event.GuildID, "channel_id", event.ChannelID, "user_id", event.UserID, "command", event.CommandName)
	if event.GuildID != m.cfg.DiscordGuildID {
		slog.Info("ignoring slash command for different guild", "event_guild_id", event.GuildID, "configured_guild_id", m.cfg.DiscordGuildID)
		m.respond(event.RespondEphemeral, messageEphemeralWrongGuild)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	var reply string
	switch event.CommandName {
	case commandPoker:
		reply = m.startRound(ctx, event)
	case commandPokerVote:
		reply = m.voteInChannel(ctx, event)
	case commandPokerStatus:
		reply = m.channelStatus(ctx, event)
	default:
		reply = messageEphemeralUnknownCommand
	}
	m.respond(event.RespondEphemeral, reply)
}

func (m *Manager) HandleComponent(event discord.ComponentEvent) {
	slog.Info("component received", "guild_id", event.GuildID, "channel_id", event.ChannelID, "user_id", event.UserID, "custom_id", event.CustomID)
	if event.GuildID != m.cfg.DiscordGuildID {
		m.respond(event.RespondEphemeral, messageEphemeralWrongGuild)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	var reply string
	action, sessionID, value := parseCustomID(event.CustomID)
	switch {
	case sessionID == "":
		reply = messageEphemeralUnknownButton
	case action == customIDVote:
		reply = m.vote(ctx, event.GuildID, event.InteractionID, event.UserID, sessionID, value)
	case action == customIDReveal:
		reply = m.closeRound(ctx, event, sessionID, repository.SessionStatusRevealed)
	case action == customIDCancel:
		reply = m.closeRound(ctx, event, sessionID, repository.SessionStatusCancelled)
	default:
		reply = messageEphemeralUnknownButton
	}
	m.respond(event.RespondEphemeral, reply)
}

func (m *Manager) respond(fn func(string) error, content string) {
	if fn == nil {
		return
	}
	if err := fn(content); err != nil {
		slog.Error("failed to respond to interaction", "error", err)
	}
}

func (m *Manager) startRound(ctx context.Context, event discord.SlashCommandEvent) string {
	if reply, ok := m.checkFirstDelivery(ctx, event.GuildID, event.InteractionID); !ok {
		return reply
	}
	story := strings.TrimSpace(event.Options[optionStory])
	if story == "" {
		return messageEphemeralMissingStory
	}
	scale := repository.ScaleFibonacci
	if raw := strings.TrimSpace(event.Options[optionScale]); raw != "" {
		s, ok := repository.ParseScale(strings.ToUpper(raw))
		if !ok {
			return messageEphemeralUnknownScale
		}
		scale = s
	}
	roster := m.roster(event.MentionedUserIDs)
	if len(roster) == 0 {
		return messageEphemeralNoParticipants
	}
	if len(roster) > repository.MaxRosterSize {
		return rosterTooLargeMessage()
	}

	if err := m.expireStaleSession(ctx, event.GuildID, event.ChannelID); err != nil {
		slog.Error("failed to check channel for stale session", "error", err, "team_id", event.GuildID, "channel_id", event.ChannelID)
		return failureReply(err, messageEphemeralStartFailed)
	}

	sessionID, err := m.newSessionID()
	if err != nil {
		slog.Error("failed to generate session id", "error", err)
		return messageEphemeralStartFailed
	}
	now := m.now()
	input := repository.CreateSessionInput{
		SessionID:  sessionID,
		TeamID:     event.GuildID,
		ChannelID:  event.ChannelID,
		CreatedBy:  event.UserID,
		StoryTitle: story,
		StoryURL:   strings.TrimSpace(event.Options[optionURL]),
		Scale:      scale,
		Roster:     roster,
	}
	if ttl := m.cfg.SessionTTL(); ttl > 0 {
		input.ExpiresAt = now.Add(ttl)
	}
	err = m.withRetry(ctx, "create_session", func() error {
		return m.repo.CreateSession(ctx, input)
	})
	if errors.Is(err, repository.ErrConflict) && m.ownsChannel(ctx, event.GuildID, event.ChannelID, sessionID) {
		// An earlier attempt committed before its response was lost.
		err = nil
	}
	switch {
	case errors.Is(err, repository.ErrConflict):
		slog.Info("channel already has an active session", "team_id", event.GuildID, "channel_id", event.ChannelID)
		return messageEphemeralAlreadyActive
	case err != nil:
		slog.Error("failed to create session", "error", err, "team_id", event.GuildID, "channel_id", event.ChannelID)
		return failureReply(err, messageEphemeralStartFailed)
	}
	slog.Info("poker session created", "session_id", sessionID, "team_id", event.GuildID, "channel_id", event.ChannelID, "participants", len(roster), "scale", scale)

	m.publishBallot(ctx, sessionID, event.ChannelID)
	return messageEphemeralStarted
}

func (m *Manager) roster(mentioned []string) []string {
	roster := make([]string, 0, len(mentioned))
	for _, id := range mentioned {
		if id == "" || id == m.botUserID {
			continue
		}
		roster = append(roster, id)
	}
	return roster
}

func (m *Manager) ownsChannel(ctx context.Context, teamID, channelID, sessionID string) bool {
	active, err := m.repo.GetActiveSessionID(ctx, teamID, channelID)
	return err == nil && active == sessionID
}

// expireStaleSession frees a channel whose active session outlived the
// maximum round duration.
func (m *Manager) expireStaleSession(ctx context.Context, teamID, channelID string) error {
	active, err := retryStore(ctx, m, "get_active_session", func() (string, error) {
		return m.repo.GetActiveSessionID(ctx, teamID, channelID)
	})
	if err != nil || active == "" {
		return err
	}
	meta, err := retryStore(ctx, m, "get_session_meta", func() (*repository.SessionMeta, error) {
		return m.repo.GetSessionMeta(ctx, active)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if meta.Status != repository.SessionStatusActive || !m.isStale(meta) {
		return nil
	}
	if err := m.finish(ctx, meta, repository.SessionStatusExpired); err != nil && !errors.Is(err, repository.ErrNotActive) {
		return err
	}
	return nil
}

func (m *Manager) isStale(meta *repository.SessionMeta) bool {
	return m.now().Sub(meta.CreatedAt) >= m.cfg.SessionMaxDuration()
}

func (m *Manager) publishBallot(ctx context.Context, sessionID, channelID string) {
	bundle, err := retryStore(ctx, m, "get_session_bundle", func() (*repository.SessionBundle, error) {
		return m.repo.GetSessionBundle(ctx, sessionID)
	})
	if err != nil {
		slog.Error("failed to load session for ballot", "error", err, "session_id", sessionID)
		return
	}
	messageID, err := m.discord.SendChannelMessage(channelID, ballotMessage(bundle))
	if err != nil {
		slog.Error("failed to post ballot message", "error", err, "session_id", sessionID, "channel_id", channelID)
		return
	}
	err = m.withRetry(ctx, "update_session_message", func() error {
		return m.repo.UpdateSessionMessage(ctx, repository.UpdateSessionMessageInput{
			SessionID:      sessionID,
			MessageChannel: channelID,
			MessageTs:      messageID,
		})
	})
	if err != nil {
		slog.Error("failed to record ballot message", "error", err, "session_id", sessionID, "message_id", messageID)
	}
}

func (m *Manager) refreshMessage(b *repository.SessionBundle) {
	meta := b.Session
	if meta.MessageTs == "" {
		return
	}
	msg := ballotMessage(b)
	if meta.Status != repository.SessionStatusActive {
		msg = closedMessage(b)
	}
	if err := m.discord.EditChannelMessage(meta.MessageChannel, meta.MessageTs, msg); err != nil {
		slog.Error("failed to update session message", "error", err, "session_id", meta.SessionID)
	}
}

func (m *Manager) voteInChannel(ctx context.Context, event discord.SlashCommandEvent) string {
	active, err := retryStore(ctx, m, "get_active_session", func() (string, error) {
		return m.repo.GetActiveSessionID(ctx, event.GuildID, event.ChannelID)
	})
	if err != nil {
		slog.Error("failed to look up active session", "error", err, "team_id", event.GuildID, "channel_id", event.ChannelID)
		return failureReply(err, messageEphemeralActionFailed)
	}
	if active == "" {
		return messageEphemeralNoActiveSession
	}
	return m.vote(ctx, event.GuildID, event.InteractionID, event.UserID, active, event.Options[optionValue])
}

func (m *Manager) vote(ctx context.Context, teamID, interactionID, userID, sessionID, value string) string {
	if reply, ok := m.checkFirstDelivery(ctx, teamID, interactionID); !ok {
		return reply
	}
	meta, reply, ok := m.activeSession(ctx, sessionID)
	if !ok {
		return reply
	}
	value = normalizeVote(meta.Scale, value)
	if !meta.Scale.Accepts(value) {
		return invalidVoteMessage(value, meta.Scale)
	}

	err := m.withRetry(ctx, "cast_vote", func() error {
		return m.repo.CastVote(ctx, sessionID, userID, value)
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return messageEphemeralNotParticipant
	case err != nil:
		slog.Error("failed to cast vote", "error", err, "session_id", sessionID, "user_id", userID)
		return failureReply(err, messageEphemeralActionFailed)
	}
	slog.Info("vote cast", "session_id", sessionID, "user_id", userID)

	bundle, err := retryStore(ctx, m, "get_session_bundle", func() (*repository.SessionBundle, error) {
		return m.repo.GetSessionBundle(ctx, sessionID)
	})
	if err != nil {
		slog.Error("failed to load session after vote", "error", err, "session_id", sessionID)
		return voteRecordedMessage(value)
	}
	if m.cfg.PokerAutoReveal && bundle.HasQuorum() && bundle.Session.Status == repository.SessionStatusActive {
		slog.Info("quorum reached; revealing", "session_id", sessionID)
		if err := m.finish(ctx, &bundle.Session, repository.SessionStatusRevealed); err != nil && !errors.Is(err, repository.ErrNotActive) {
			slog.Error("failed to auto reveal session", "error", err, "session_id", sessionID)
		}
		return voteRecordedMessage(value)
	}
	m.refreshMessage(bundle)
	return voteRecordedMessage(value)
}

func normalizeVote(scale repository.Scale, value string) string {
	value = strings.TrimSpace(value)
	if scale == repository.ScaleTShirt {
		return strings.ToUpper(value)
	}
	return value
}

// activeSession loads a session that can still take votes, expiring it first
// if it ran past the maximum round duration.
func (m *Manager) activeSession(ctx context.Context, sessionID string) (*repository.SessionMeta, string, bool) {
	meta, err := retryStore(ctx, m, "get_session_meta", func() (*repository.SessionMeta, error) {
		return m.repo.GetSessionMeta(ctx, sessionID)
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, messageEphemeralSessionNotFound, false
	case err != nil:
		slog.Error("failed to load session", "error", err, "session_id", sessionID)
		return nil, failureReply(err, messageEphemeralActionFailed), false
	case meta.Status != repository.SessionStatusActive:
		return nil, messageEphemeralVotingClosed, false
	}
	if m.isStale(meta) {
		if err := m.finish(ctx, meta, repository.SessionStatusExpired); err != nil && !errors.Is(err, repository.ErrNotActive) {
			slog.Error("failed to expire stale session", "error", err, "session_id", sessionID)
		}
		return nil, messageEphemeralVotingClosed, false
	}
	return meta, "", true
}

func (m *Manager) closeRound(ctx context.Context, event discord.ComponentEvent, sessionID string, to repository.SessionStatus) string {
	if reply, ok := m.checkFirstDelivery(ctx, event.GuildID, event.InteractionID); !ok {
		return reply
	}
	meta, reply, ok := m.activeSession(ctx, sessionID)
	if !ok {
		return reply
	}
	if event.UserID != meta.CreatedBy {
		return messageEphemeralFacilitatorOnly
	}
	err := m.finish(ctx, meta, to)
	switch {
	case errors.Is(err, repository.ErrNotActive):
		return messageEphemeralVotingClosed
	case err != nil:
		slog.Error("failed to close session", "error", err, "session_id", sessionID, "status", to)
		return failureReply(err, messageEphemeralActionFailed)
	}
	if to == repository.SessionStatusRevealed {
		return messageEphemeralRevealed
	}
	return messageEphemeralCancelled
}

// finish moves the session to a terminal status, then updates its channel
// message and, for reveals, notifies the webhook.
func (m *Manager) finish(ctx context.Context, meta *repository.SessionMeta, to repository.SessionStatus) error {
	var transition func(ctx context.Context, sessionID, teamID, channelID string) error
	switch to {
	case repository.SessionStatusRevealed:
		transition = m.repo.Reveal
	case repository.SessionStatusCancelled:
		transition = m.repo.Cancel
	case repository.SessionStatusExpired:
		transition = m.repo.Expire
	default:
		return fmt.Errorf("unsupported terminal status %s", to)
	}
	attempts := 0
	err := m.withRetry(ctx, "finish_session", func() error {
		attempts++
		return transition(ctx, meta.SessionID, meta.TeamID, meta.ChannelID)
	})
	if errors.Is(err, repository.ErrNotActive) && attempts > 1 && m.reachedStatus(ctx, meta.SessionID, to) {
		// An earlier attempt committed but its response was lost.
		slog.Warn("terminal transition already committed by a retried attempt", "session_id", meta.SessionID, "status", to)
		err = nil
	}
	if err != nil {
		return err
	}
	slog.Info("poker session finished", "session_id", meta.SessionID, "team_id", meta.TeamID, "channel_id", meta.ChannelID, "status", to)

	bundle, err := retryStore(ctx, m, "get_session_bundle", func() (*repository.SessionBundle, error) {
		return m.repo.GetSessionBundle(ctx, meta.SessionID)
	})
	if err != nil {
		slog.Error("failed to load finished session", "error", err, "session_id", meta.SessionID)
		return nil
	}
	m.refreshMessage(bundle)
	if to == repository.SessionStatusRevealed {
		m.sendRevealWebhook(ctx, bundle)
	}
	return nil
}

func (m *Manager) reachedStatus(ctx context.Context, sessionID string, status repository.SessionStatus) bool {
	meta, err := retryStore(ctx, m, "get_session_meta", func() (*repository.SessionMeta, error) {
		return m.repo.GetSessionMeta(ctx, sessionID)
	})
	return err == nil && meta.Status == status
}

func (m *Manager) sendRevealWebhook(ctx context.Context, b *repository.SessionBundle) {
	meta := b.Session
	payload := webhook.RevealPayload{
		SessionID:        meta.SessionID,
		TeamID:           meta.TeamID,
		ChannelID:        meta.ChannelID,
		StoryTitle:       meta.StoryTitle,
		StoryURL:         meta.StoryURL,
		Scale:            string(meta.Scale),
		Facilitator:      meta.CreatedBy,
		ParticipantCount: len(b.Participants),
		Votes:            make([]webhook.RevealVote, 0, len(b.Votes)),
	}
	if meta.RevealedAt != nil {
		payload.RevealedAt = *meta.RevealedAt
	}
	for _, v := range b.Votes {
		payload.Votes = append(payload.Votes, webhook.RevealVote{UserID: v.UserID, Value: v.Value})
	}
	if err := m.webhook.SendRevealResult(ctx, payload); err != nil {
		slog.Error("failed to send reveal webhook", "error", err, "session_id", meta.SessionID)
	}
}

func (m *Manager) channelStatus(ctx context.Context, event discord.SlashCommandEvent) string {
	active, err := retryStore(ctx, m, "get_active_session", func() (string, error) {
		return m.repo.GetActiveSessionID(ctx, event.GuildID, event.ChannelID)
	})
	if err != nil {
		slog.Error("failed to look up active session", "error", err, "team_id", event.GuildID, "channel_id", event.ChannelID)
		return failureReply(err, messageEphemeralActionFailed)
	}
	if active == "" {
		return messageEphemeralNoActiveSession
	}
	bundle, err := retryStore(ctx, m, "get_session_bundle", func() (*repository.SessionBundle, error) {
		return m.repo.GetSessionBundle(ctx, active)
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return messageEphemeralNoActiveSession
	case err != nil:
		slog.Error("failed to load session status", "error", err, "session_id", active)
		return failureReply(err, messageEphemeralActionFailed)
	}
	return statusMessage(bundle)
}

// checkFirstDelivery records the interaction id and reports whether this is
// its first delivery.
func (m *Manager) checkFirstDelivery(ctx context.Context, teamID, interactionID string) (string, bool) {
	if interactionID == "" {
		return "", true
	}
	expiresAt := m.now().Add(m.cfg.DedupRetention())
	first, err := retryStore(ctx, m, "record_dedup", func() (bool, error) {
		return m.repo.RecordDedup(ctx, teamID, interactionID, expiresAt)
	})
	if err != nil {
		slog.Error("failed to record interaction", "error", err, "team_id", teamID, "interaction_id", interactionID)
		return failureReply(err, messageEphemeralActionFailed), false
	}
	if !first {
		slog.Info("duplicate interaction ignored", "team_id", teamID, "interaction_id", interactionID)
		return messageEphemeralDuplicate, false
	}
	return "", true
}

func failureReply(err error, fallback string) string {
	if repository.IsRetryable(err) {
		return messageEphemeralStoreUnavailable
	}
	return fallback
}

func voteCustomID(sessionID, value string) string {
	return customIDVote + ":" + sessionID + ":" + value
}

func revealCustomID(sessionID string) string {
	return customIDReveal + ":" + sessionID
}

func cancelCustomID(sessionID string) string {
	return customIDCancel + ":" + sessionID
}

func parseCustomID(customID string) (action, sessionID, value string) {
	parts := strings.SplitN(customID, ":", 3)
	switch {
	case len(parts) == 3 && parts[0] == customIDVote:
		return parts[0], parts[1], parts[2]
	case len(parts) == 2 && parts[0] != customIDVote:
		return parts[0], parts[1], ""
	default:
		return "", "", ""
	}
}

// retryStore retries fn while it fails with a transient store error.
// Definitive errors are returned on first sight.
func retryStore[T any](ctx context.Context, m *Manager, op string, fn func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !repository.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		slog.Warn("transient store failure; retrying", "op", op, "error", err)
		return v, err
	}, backoff.WithBackOff(m.newBackOff()), backoff.WithMaxTries(storeMaxTries))
}

func (m *Manager) withRetry(ctx context.Context, op string, fn func() error) error {
	_, err := retryStore(ctx, m, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
