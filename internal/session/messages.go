package session

import (
	"fmt"
	"strings"

	"github.com/foxseedlab/pokerbot/internal/discord"
	"github.com/foxseedlab/pokerbot/internal/repository"
)

const (
	slashCommandPokerDescription       = "Start a planning poker round in this channel."
	slashCommandPokerVoteDescription   = "Cast or change your vote in this channel's round."
	slashCommandPokerStatusDescription = "Show the progress of this channel's round."

	optionStoryDescription        = "Story or ticket being estimated"
	optionURLDescription          = "Link to the story"
	optionScaleDescription        = "Card set (default FIBONACCI)"
	optionParticipantsDescription = "Mention everyone who should vote"
	optionValueDescription        = "Your estimate"

	messageEphemeralWrongGuild        = ":warning: **This command is not available in this server.**"
	messageEphemeralUnknownCommand    = ":warning: **Unknown command.**"
	messageEphemeralMissingStory      = ":warning: **Give the story a title.**"
	messageEphemeralUnknownScale      = ":warning: **Unknown scale. Use FIBONACCI, TSHIRT or CUSTOM.**"
	messageEphemeralNoParticipants    = ":warning: **Mention at least one participant.**"
	messageEphemeralAlreadyActive     = ":warning: **This channel already has a round in progress.**"
	messageEphemeralNoActiveSession   = ":information_source: **There is no round in progress in this channel.**"
	messageEphemeralSessionNotFound   = ":warning: **This round no longer exists.**"
	messageEphemeralVotingClosed      = ":lock: **Voting for this round is closed.**"
	messageEphemeralNotParticipant    = ":warning: **You are not a participant of this round.**"
	messageEphemeralFacilitatorOnly   = ":warning: **Only the facilitator can do that.**"
	messageEphemeralDuplicate         = ":information_source: **Already handled.**"
	messageEphemeralStoreUnavailable  = ":warning: **The vote store is unavailable. Try again shortly.**"
	messageEphemeralStartFailed       = ":warning: **Failed to start the round.**"
	messageEphemeralActionFailed      = ":warning: **Something went wrong. Try again.**"
	messageEphemeralStarted           = ":black_joker: **Round started.**"
	messageEphemeralRevealed          = ":eyes: **Votes revealed.**"
	messageEphemeralCancelled         = ":wastebasket: **Round cancelled.**"
	messageEphemeralUnknownButton     = ":warning: **This button is no longer supported.**"
	messageEphemeralInvalidVoteFormat = ":warning: **`%s` is not a card of the %s scale.**"
	messageEphemeralVoteRecorded      = ":white_check_mark: Your vote `%s` was recorded."
	messageEphemeralRosterTooLarge    = ":warning: **A round can have at most %d participants.**"

	messageCustomScaleHint = "-# Vote with `/poker-vote value:<estimate>`."
)

func invalidVoteMessage(value string, scale repository.Scale) string {
	return fmt.Sprintf(messageEphemeralInvalidVoteFormat, value, scale)
}

func voteRecordedMessage(value string) string {
	return fmt.Sprintf(messageEphemeralVoteRecorded, value)
}

func rosterTooLargeMessage() string {
	return fmt.Sprintf(messageEphemeralRosterTooLarge, repository.MaxRosterSize)
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func mentions(userIDs []string) string {
	parts := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		parts = append(parts, mention(id))
	}
	return strings.Join(parts, ", ")
}

func storyHeader(meta repository.SessionMeta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", meta.StoryTitle)
	if meta.StoryURL != "" {
		fmt.Fprintf(&b, "\n%s", meta.StoryURL)
	}
	return b.String()
}

// ballotMessage is the channel message of an ACTIVE round. Votes stay hidden;
// only who has voted is shown.
func ballotMessage(b *repository.SessionBundle) discord.ChannelMessage {
	meta := b.Session
	voted, total := b.Quorum()
	var content strings.Builder
	fmt.Fprintf(&content, ":black_joker: Planning poker by %s\n", mention(meta.CreatedBy))
	content.WriteString(storyHeader(meta))
	fmt.Fprintf(&content, "\nScale: %s\nVoted: %d/%d", meta.Scale, voted, total)
	if pending := b.PendingUserIDs(); len(pending) > 0 {
		fmt.Fprintf(&content, "\nWaiting on: %s", mentions(pending))
	}
	if meta.Scale == repository.ScaleCustom {
		content.WriteString("\n" + messageCustomScaleHint)
	}

	values := meta.Scale.Values()
	buttons := make([]discord.Button, 0, len(values)+2)
	for _, v := range values {
		buttons = append(buttons, discord.Button{CustomID: voteCustomID(meta.SessionID, v), Label: v, Style: discord.ButtonStyleSecondary})
	}
	buttons = append(buttons,
		discord.Button{CustomID: revealCustomID(meta.SessionID), Label: "Reveal", Style: discord.ButtonStylePrimary},
		discord.Button{CustomID: cancelCustomID(meta.SessionID), Label: "Cancel", Style: discord.ButtonStyleDanger},
	)
	return discord.ChannelMessage{Content: content.String(), Buttons: buttons}
}

func revealedMessage(b *repository.SessionBundle) discord.ChannelMessage {
	var content strings.Builder
	content.WriteString(":eyes: Votes revealed\n")
	content.WriteString(storyHeader(b.Session))
	tally := b.Tally()
	if len(tally) == 0 {
		content.WriteString("\nNobody voted.")
	}
	for _, t := range tally {
		fmt.Fprintf(&content, "\n`%s` × %d: %s", t.Value, len(t.UserIDs), mentions(t.UserIDs))
	}
	if pending := b.PendingUserIDs(); len(pending) > 0 {
		fmt.Fprintf(&content, "\nDid not vote: %s", mentions(pending))
	}
	return discord.ChannelMessage{Content: content.String()}
}

func closedMessage(b *repository.SessionBundle) discord.ChannelMessage {
	var title string
	switch b.Session.Status {
	case repository.SessionStatusCancelled:
		title = ":wastebasket: Round cancelled"
	case repository.SessionStatusExpired:
		title = ":hourglass: Round expired before votes were revealed"
	default:
		return revealedMessage(b)
	}
	return discord.ChannelMessage{Content: title + "\n" + storyHeader(b.Session)}
}

func statusMessage(b *repository.SessionBundle) string {
	voted, total := b.Quorum()
	msg := fmt.Sprintf("%s\nVoted: %d/%d", storyHeader(b.Session), voted, total)
	if pending := b.PendingUserIDs(); len(pending) > 0 {
		msg += "\nWaiting on: " + mentions(pending)
	}
	return msg
}
