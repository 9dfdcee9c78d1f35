package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	kvimpl "github.com/foxseedlab/pokerbot/external/kv"
	"github.com/foxseedlab/pokerbot/internal/config"
	"github.com/foxseedlab/pokerbot/internal/discord"
	"github.com/foxseedlab/pokerbot/internal/kv"
	"github.com/foxseedlab/pokerbot/internal/repository"
	"github.com/foxseedlab/pokerbot/internal/webhook"
)

type postedMessage struct {
	channelID string
	messageID string
	msg       discord.ChannelMessage
}

type mockDiscordClient struct {
	sent  []postedMessage
	edits []postedMessage
}

func (m *mockDiscordClient) Connect(_ context.Context) error { return nil }
func (m *mockDiscordClient) Close() error                    { return nil }
func (m *mockDiscordClient) SendChannelMessage(channelID string, msg discord.ChannelMessage) (string, error) {
	id := fmt.Sprintf("message-%d", len(m.sent)+1)
	m.sent = append(m.sent, postedMessage{channelID: channelID, messageID: id, msg: msg})
	return id, nil
}
func (m *mockDiscordClient) EditChannelMessage(channelID, messageID string, msg discord.ChannelMessage) error {
	m.edits = append(m.edits, postedMessage{channelID: channelID, messageID: messageID, msg: msg})
	return nil
}
func (m *mockDiscordClient) RegisterSlashCommandHandler(_ func(discord.SlashCommandEvent)) {}
func (m *mockDiscordClient) RegisterComponentHandler(_ func(discord.ComponentEvent))       {}
func (m *mockDiscordClient) UpsertGuildSlashCommands(_ string, _ []discord.SlashCommandDefinition) error {
	return nil
}
func (m *mockDiscordClient) GetBotUserID() (string, error) { return "bot-self", nil }
func (m *mockDiscordClient) Run() error                    { return nil }

func (m *mockDiscordClient) lastEdit(t *testing.T) postedMessage {
	t.Helper()
	if len(m.edits) == 0 {
		t.Fatal("expected at least one message edit")
	}
	return m.edits[len(m.edits)-1]
}

type mockWebhookSender struct {
	payloads []webhook.RevealPayload
}

func (m *mockWebhookSender) SendRevealResult(_ context.Context, payload webhook.RevealPayload) error {
	m.payloads = append(m.payloads, payload)
	return nil
}

// flakyRepository fails the first castVoteFailures CastVote calls with a
// transient error.
type flakyRepository struct {
	repository.Repository
	castVoteFailures int
	castVoteCalls    int
}

func (r *flakyRepository) CastVote(ctx context.Context, sessionID, userID, value string) error {
	r.castVoteCalls++
	if r.castVoteCalls <= r.castVoteFailures {
		return kv.Transient(errors.New("connection reset by peer"))
	}
	return r.Repository.CastVote(ctx, sessionID, userID, value)
}

// lostAckRepository commits the first Reveal or Cancel and then reports a
// transient error, as if the store's response was lost on the way back.
type lostAckRepository struct {
	repository.Repository
	transitionCalls int
}

func (r *lostAckRepository) Reveal(ctx context.Context, sessionID, teamID, channelID string) error {
	return r.commitThenDrop(r.Repository.Reveal(ctx, sessionID, teamID, channelID))
}

func (r *lostAckRepository) Cancel(ctx context.Context, sessionID, teamID, channelID string) error {
	return r.commitThenDrop(r.Repository.Cancel(ctx, sessionID, teamID, channelID))
}

func (r *lostAckRepository) commitThenDrop(err error) error {
	r.transitionCalls++
	if r.transitionCalls == 1 && err == nil {
		return kv.Transient(errors.New("i/o timeout"))
	}
	return err
}

type testEnv struct {
	manager *Manager
	repo    *repository.Store
	discord *mockDiscordClient
	webhook *mockWebhookSender
	now     time.Time
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Env:                   "test",
		StoreBackend:          config.StoreBackendMemory,
		DedupRetentionMin:     60,
		SessionTTLHours:       168,
		SessionMaxDurationMin: 60,
		StorePurgeIntervalMin: 15,
		DiscordToken:          "token",
		DiscordGuildID:        "guild-1",
	}
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{
		discord: &mockDiscordClient{},
		webhook: &mockWebhookSender{},
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	mem := kvimpl.NewMemoryStore()
	mem.SetClock(clock)
	env.repo = repository.NewStore(mem, repository.WithClock(clock))
	env.manager = newTestManager(cfg, env.repo, env.discord, env.webhook, clock)
	return env
}

func newTestManager(cfg *config.Config, repo repository.Repository, dc discord.Client, wh webhook.Sender, clock func() time.Time) *Manager {
	m := NewManager(cfg, repo, dc, wh)
	m.now = clock
	var issued int
	m.newSessionID = func() (string, error) {
		issued++
		return fmt.Sprintf("session-%d", issued), nil
	}
	m.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	m.SetBotUserID("bot-self")
	return m
}

func (e *testEnv) slash(command, interactionID, userID string, options map[string]string, mentioned ...string) string {
	var got string
	e.manager.HandleSlashCommand(discord.SlashCommandEvent{
		InteractionID:    interactionID,
		GuildID:          "guild-1",
		ChannelID:        "channel-1",
		CommandName:      command,
		UserID:           userID,
		Options:          options,
		MentionedUserIDs: mentioned,
		RespondEphemeral: func(content string) error {
			got = content
			return nil
		},
	})
	return got
}

func (e *testEnv) click(interactionID, userID, customID string) string {
	var got string
	e.manager.HandleComponent(discord.ComponentEvent{
		InteractionID: interactionID,
		GuildID:       "guild-1",
		ChannelID:     "channel-1",
		CustomID:      customID,
		UserID:        userID,
		RespondEphemeral: func(content string) error {
			got = content
			return nil
		},
	})
	return got
}

func (e *testEnv) startRound(t *testing.T, interactionID string, options map[string]string) {
	t.Helper()
	if options == nil {
		options = map[string]string{optionStory: "Login page", optionParticipants: "<@user-1> <@user-2>"}
	}
	if got := e.slash(commandPoker, interactionID, "facilitator", options, "user-1", "user-2", "bot-self"); got != messageEphemeralStarted {
		t.Fatalf("unexpected start response: %q", got)
	}
}

func (e *testEnv) status(t *testing.T, sessionID string) repository.SessionStatus {
	t.Helper()
	meta, err := e.repo.GetSessionMeta(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return meta.Status
}

func TestHandleSlashCommand_IgnoresOtherGuild(t *testing.T) {
	env := newTestEnv(t, nil)
	var got string
	env.manager.HandleSlashCommand(discord.SlashCommandEvent{
		InteractionID: "i-1",
		GuildID:       "guild-2",
		ChannelID:     "channel-1",
		CommandName:   commandPoker,
		UserID:        "facilitator",
		RespondEphemeral: func(content string) error {
			got = content
			return nil
		},
	})
	if got != messageEphemeralWrongGuild {
		t.Fatalf("unexpected response: %q", got)
	}
	if len(env.discord.sent) != 0 {
		t.Fatalf("expected no discord messages, got %d", len(env.discord.sent))
	}
}

func TestHandleSlashCommand_UnknownCommand(t *testing.T) {
	env := newTestEnv(t, nil)
	if got := env.slash("poker-unknown", "i-1", "facilitator", nil); got != messageEphemeralUnknownCommand {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestStartRound_PostsBallotAndRecordsMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)

	if len(env.discord.sent) != 1 {
		t.Fatalf("expected one ballot message, got %d", len(env.discord.sent))
	}
	ballot := env.discord.sent[0]
	if ballot.channelID != "channel-1" {
		t.Fatalf("unexpected channel: %s", ballot.channelID)
	}
	if len(ballot.msg.Buttons) != len(repository.ScaleFibonacci.Values())+2 {
		t.Fatalf("unexpected button count: %d", len(ballot.msg.Buttons))
	}
	if ballot.msg.Buttons[0].CustomID != "poker_vote:session-1:0" {
		t.Fatalf("unexpected first button: %+v", ballot.msg.Buttons[0])
	}
	if !strings.Contains(ballot.msg.Content, "Voted: 0/2") {
		t.Fatalf("unexpected ballot content: %q", ballot.msg.Content)
	}

	ctx := context.Background()
	active, err := env.repo.GetActiveSessionID(ctx, "guild-1", "channel-1")
	if err != nil || active != "session-1" {
		t.Fatalf("expected session-1 active, got %q err=%v", active, err)
	}
	meta, err := env.repo.GetSessionMeta(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.MessageTs != "message-1" || meta.MessageChannel != "channel-1" || meta.CreatedBy != "facilitator" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	participants, err := env.repo.ListParticipants(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected bot to be left out of the roster, got %+v", participants)
	}
}

func TestStartRound_RejectsSecondRoundInChannel(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)

	got := env.slash(commandPoker, "i-2", "facilitator", map[string]string{optionStory: "Signup"}, "user-1")
	if got != messageEphemeralAlreadyActive {
		t.Fatalf("unexpected response: %q", got)
	}
	if len(env.discord.sent) != 1 {
		t.Fatalf("expected no second ballot, got %d messages", len(env.discord.sent))
	}
}

func TestStartRound_ExpiresStaleSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)
	env.advance(61 * time.Minute)
	env.startRound(t, "i-2", nil)

	if got := env.status(t, "session-1"); got != repository.SessionStatusExpired {
		t.Fatalf("expected session-1 expired, got %s", got)
	}
	edit := env.discord.lastEdit(t)
	if edit.messageID != "message-1" || len(edit.msg.Buttons) != 0 {
		t.Fatalf("expected expired ballot without buttons, got %+v", edit)
	}
	active, err := env.repo.GetActiveSessionID(context.Background(), "guild-1", "channel-1")
	if err != nil || active != "session-2" {
		t.Fatalf("expected session-2 active, got %q err=%v", active, err)
	}
	if len(env.webhook.payloads) != 0 {
		t.Fatalf("expected no webhook for expiry, got %d", len(env.webhook.payloads))
	}
}

func TestStartRound_Validation(t *testing.T) {
	tests := []struct {
		name      string
		options   map[string]string
		mentioned []string
		want      string
	}{
		{
			name:      "missing story",
			options:   map[string]string{optionStory: "  "},
			mentioned: []string{"user-1"},
			want:      messageEphemeralMissingStory,
		},
		{
			name:      "unknown scale",
			options:   map[string]string{optionStory: "Login", optionScale: "POWERS"},
			mentioned: []string{"user-1"},
			want:      messageEphemeralUnknownScale,
		},
		{
			name:      "only the bot mentioned",
			options:   map[string]string{optionStory: "Login"},
			mentioned: []string{"bot-self"},
			want:      messageEphemeralNoParticipants,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			if got := env.slash(commandPoker, "i-1", "facilitator", tt.options, tt.mentioned...); got != tt.want {
				t.Fatalf("unexpected response: %q", got)
			}
			if len(env.discord.sent) != 0 {
				t.Fatalf("expected no ballot, got %d", len(env.discord.sent))
			}
		})
	}
}

func TestDuplicateInteractionIsIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)

	got := env.slash(commandPoker, "i-1", "facilitator", map[string]string{optionStory: "Login page"}, "user-1")
	if got != messageEphemeralDuplicate {
		t.Fatalf("unexpected response: %q", got)
	}
	if len(env.discord.sent) != 1 {
		t.Fatalf("expected one ballot, got %d", len(env.discord.sent))
	}

	if got := env.click("i-2", "user-1", voteCustomID("session-1", "3")); got != voteRecordedMessage("3") {
		t.Fatalf("unexpected vote response: %q", got)
	}
	if got := env.click("i-2", "user-1", voteCustomID("session-1", "8")); got != messageEphemeralDuplicate {
		t.Fatalf("unexpected redelivery response: %q", got)
	}
	votes, err := env.repo.ListVotes(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(votes) != 1 || votes[0].Value != "3" {
		t.Fatalf("expected redelivered vote to be dropped, got %+v", votes)
	}
}

func TestVote_UpdatesBallotProgress(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)

	if got := env.click("i-2", "user-1", voteCustomID("session-1", "5")); got != voteRecordedMessage("5") {
		t.Fatalf("unexpected response: %q", got)
	}
	edit := env.discord.lastEdit(t)
	if !strings.Contains(edit.msg.Content, "Voted: 1/2") || !strings.Contains(edit.msg.Content, "<@user-2>") {
		t.Fatalf("unexpected ballot content: %q", edit.msg.Content)
	}
	if strings.Contains(edit.msg.Content, "`5`") {
		t.Fatalf("ballot must not show vote values: %q", edit.msg.Content)
	}
}

func TestVote_QuorumTriggersAutoReveal(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.PokerAutoReveal = true })
	env.startRound(t, "i-1", nil)

	env.click("i-2", "user-1", voteCustomID("session-1", "3"))
	if got := env.status(t, "session-1"); got != repository.SessionStatusActive {
		t.Fatalf("expected session still active, got %s", got)
	}
	env.click("i-3", "user-2", voteCustomID("session-1", "5"))
	if got := env.status(t, "session-1"); got != repository.SessionStatusRevealed {
		t.Fatalf("expected session revealed, got %s", got)
	}

	if len(env.webhook.payloads) != 1 {
		t.Fatalf("expected one webhook payload, got %d", len(env.webhook.payloads))
	}
	payload := env.webhook.payloads[0]
	if payload.SessionID != "session-1" || payload.ParticipantCount != 2 || len(payload.Votes) != 2 || payload.RevealedAt.IsZero() {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	edit := env.discord.lastEdit(t)
	if len(edit.msg.Buttons) != 0 || !strings.Contains(edit.msg.Content, "`3`") || !strings.Contains(edit.msg.Content, "`5`") {
		t.Fatalf("unexpected revealed message: %+v", edit.msg)
	}
}

func TestVote_QuorumWithoutAutoRevealKeepsSessionActive(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)
	env.click("i-2", "user-1", voteCustomID("session-1", "3"))
	env.click("i-3", "user-2", voteCustomID("session-1", "5"))

	if got := env.status(t, "session-1"); got != repository.SessionStatusActive {
		t.Fatalf("expected session still active, got %s", got)
	}
	if !strings.Contains(env.discord.lastEdit(t).msg.Content, "Voted: 2/2") {
		t.Fatalf("unexpected ballot content: %q", env.discord.lastEdit(t).msg.Content)
	}
}

func TestVote_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)

	if got := env.click("i-2", "user-9", voteCustomID("session-1", "3")); got != messageEphemeralNotParticipant {
		t.Fatalf("unexpected response for non-participant: %q", got)
	}
	if got := env.click("i-3", "user-1", voteCustomID("session-1", "4")); got != invalidVoteMessage("4", repository.ScaleFibonacci) {
		t.Fatalf("unexpected response for invalid card: %q", got)
	}
	if got := env.click("i-4", "user-1", voteCustomID("session-404", "3")); got != messageEphemeralSessionNotFound {
		t.Fatalf("unexpected response for unknown session: %q", got)
	}
	votes, err := env.repo.ListVotes(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(votes) != 0 {
		t.Fatalf("expected no votes, got %+v", votes)
	}
}

func TestVote_StaleSessionIsExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)
	env.advance(2 * time.Hour)

	if got := env.click("i-2", "user-1", voteCustomID("session-1", "3")); got != messageEphemeralVotingClosed {
		t.Fatalf("unexpected response: %q", got)
	}
	if got := env.status(t, "session-1"); got != repository.SessionStatusExpired {
		t.Fatalf("expected session expired, got %s", got)
	}
}

func TestReveal_FacilitatorOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)

	if got := env.click("i-2", "user-1", revealCustomID("session-1")); got != messageEphemeralFacilitatorOnly {
		t.Fatalf("unexpected response: %q", got)
	}
	if got := env.status(t, "session-1"); got != repository.SessionStatusActive {
		t.Fatalf("expected session still active, got %s", got)
	}

	if got := env.click("i-3", "facilitator", revealCustomID("session-1")); got != messageEphemeralRevealed {
		t.Fatalf("unexpected response: %q", got)
	}
	if len(env.webhook.payloads) != 1 {
		t.Fatalf("expected one webhook payload, got %d", len(env.webhook.payloads))
	}
	if !strings.Contains(env.discord.lastEdit(t).msg.Content, "Nobody voted.") {
		t.Fatalf("unexpected revealed message: %q", env.discord.lastEdit(t).msg.Content)
	}

	if got := env.click("i-4", "facilitator", cancelCustomID("session-1")); got != messageEphemeralVotingClosed {
		t.Fatalf("unexpected response for cancel after reveal: %q", got)
	}
	if got := env.click("i-5", "user-1", voteCustomID("session-1", "3")); got != messageEphemeralVotingClosed {
		t.Fatalf("unexpected response for vote after reveal: %q", got)
	}
}

func TestCancel_ClosesRoundWithoutWebhook(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)

	if got := env.click("i-2", "facilitator", cancelCustomID("session-1")); got != messageEphemeralCancelled {
		t.Fatalf("unexpected response: %q", got)
	}
	if got := env.status(t, "session-1"); got != repository.SessionStatusCancelled {
		t.Fatalf("expected session cancelled, got %s", got)
	}
	if len(env.webhook.payloads) != 0 {
		t.Fatalf("expected no webhook payload, got %d", len(env.webhook.payloads))
	}
	env.startRound(t, "i-3", nil)
}

func TestPokerVoteCommand_CustomScale(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", map[string]string{optionStory: "Spike", optionScale: "custom"})

	if n := len(env.discord.sent[0].msg.Buttons); n != 2 {
		t.Fatalf("expected only reveal and cancel buttons, got %d", n)
	}
	if got := env.slash(commandPokerVote, "i-2", "user-1", map[string]string{optionValue: " two days "}); got != voteRecordedMessage("two days") {
		t.Fatalf("unexpected response: %q", got)
	}
	tooLong := strings.Repeat("x", 17)
	if got := env.slash(commandPokerVote, "i-3", "user-2", map[string]string{optionValue: tooLong}); got != invalidVoteMessage(tooLong, repository.ScaleCustom) {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestPokerVoteCommand_NoActiveSession(t *testing.T) {
	env := newTestEnv(t, nil)
	if got := env.slash(commandPokerVote, "i-1", "user-1", map[string]string{optionValue: "3"}); got != messageEphemeralNoActiveSession {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestStatusCommand(t *testing.T) {
	env := newTestEnv(t, nil)
	if got := env.slash(commandPokerStatus, "i-1", "user-1", nil); got != messageEphemeralNoActiveSession {
		t.Fatalf("unexpected response: %q", got)
	}
	env.startRound(t, "i-2", nil)
	env.click("i-3", "user-2", voteCustomID("session-1", "8"))

	got := env.slash(commandPokerStatus, "i-4", "user-1", nil)
	if !strings.Contains(got, "Login page") || !strings.Contains(got, "Voted: 1/2") || !strings.Contains(got, "<@user-1>") {
		t.Fatalf("unexpected status: %q", got)
	}
}

func TestVote_RetriesTransientStoreErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)
	flaky := &flakyRepository{Repository: env.repo, castVoteFailures: 2}
	env.manager = newTestManager(env.manager.cfg, flaky, env.discord, env.webhook, env.manager.now)

	if got := env.click("i-2", "user-1", voteCustomID("session-1", "3")); got != voteRecordedMessage("3") {
		t.Fatalf("unexpected response: %q", got)
	}
	if flaky.castVoteCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", flaky.castVoteCalls)
	}
}

func TestReveal_CompletesWhenCommitResponseIsLost(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)
	env.click("i-2", "user-1", voteCustomID("session-1", "3"))
	lossy := &lostAckRepository{Repository: env.repo}
	env.manager = newTestManager(env.manager.cfg, lossy, env.discord, env.webhook, env.manager.now)

	if got := env.click("i-3", "facilitator", revealCustomID("session-1")); got != messageEphemeralRevealed {
		t.Fatalf("unexpected response: %q", got)
	}
	if lossy.transitionCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", lossy.transitionCalls)
	}
	if got := env.status(t, "session-1"); got != repository.SessionStatusRevealed {
		t.Fatalf("expected session revealed, got %s", got)
	}
	if len(env.webhook.payloads) != 1 {
		t.Fatalf("expected one webhook payload, got %d", len(env.webhook.payloads))
	}
	if got := env.discord.lastEdit(t).msg.Content; !strings.Contains(got, "`3`") {
		t.Fatalf("expected tally in revealed message, got %q", got)
	}
}

func TestCancel_CompletesWhenCommitResponseIsLost(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)
	lossy := &lostAckRepository{Repository: env.repo}
	env.manager = newTestManager(env.manager.cfg, lossy, env.discord, env.webhook, env.manager.now)
	editsBefore := len(env.discord.edits)

	if got := env.click("i-2", "facilitator", cancelCustomID("session-1")); got != messageEphemeralCancelled {
		t.Fatalf("unexpected response: %q", got)
	}
	if len(env.discord.edits) != editsBefore+1 {
		t.Fatalf("expected the ballot to be replaced, got %d new edits", len(env.discord.edits)-editsBefore)
	}
	if len(env.webhook.payloads) != 0 {
		t.Fatalf("expected no webhook payload, got %d", len(env.webhook.payloads))
	}
}

func TestVote_GivesUpAfterMaxTries(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)
	flaky := &flakyRepository{Repository: env.repo, castVoteFailures: 100}
	env.manager = newTestManager(env.manager.cfg, flaky, env.discord, env.webhook, env.manager.now)

	if got := env.click("i-2", "user-1", voteCustomID("session-1", "3")); got != messageEphemeralStoreUnavailable {
		t.Fatalf("unexpected response: %q", got)
	}
	if flaky.castVoteCalls != storeMaxTries {
		t.Fatalf("expected %d attempts, got %d", storeMaxTries, flaky.castVoteCalls)
	}
}

func TestVote_DefinitiveErrorsAreNotRetried(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startRound(t, "i-1", nil)
	flaky := &flakyRepository{Repository: env.repo}
	env.manager = newTestManager(env.manager.cfg, flaky, env.discord, env.webhook, env.manager.now)

	if got := env.click("i-2", "user-9", voteCustomID("session-1", "3")); got != messageEphemeralNotParticipant {
		t.Fatalf("unexpected response: %q", got)
	}
	if flaky.castVoteCalls != 1 {
		t.Fatalf("expected a single attempt, got %d", flaky.castVoteCalls)
	}
}

func TestParseCustomID(t *testing.T) {
	tests := []struct {
		customID                string
		action, session, value string
	}{
		{customID: "poker_vote:s1:13", action: customIDVote, session: "s1", value: "13"},
		{customID: "poker_reveal:s1", action: customIDReveal, session: "s1"},
		{customID: "poker_cancel:s1", action: customIDCancel, session: "s1"},
		{customID: "poker_vote:s1"},
		{customID: "garbage"},
	}
	for _, tt := range tests {
		action, session, value := parseCustomID(tt.customID)
		if action != tt.action || session != tt.session || value != tt.value {
			t.Fatalf("parseCustomID(%q) = %q, %q, %q", tt.customID, action, session, value)
		}
	}
}

func TestSlashCommandDefinitions(t *testing.T) {
	defs := SlashCommandDefinitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	if strings.Join(names, ",") != "poker,poker-vote,poker-status" {
		t.Fatalf("unexpected commands: %v", names)
	}
}
