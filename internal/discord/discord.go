package discord

import "context"

type ButtonStyle int

const (
	ButtonStylePrimary ButtonStyle = iota
	ButtonStyleSecondary
	ButtonStyleSuccess
	ButtonStyleDanger
)

type Button struct {
	CustomID string
	Label    string
	Style    ButtonStyle
}

// ChannelMessage is a plain text message with an optional set of buttons.
// A message without buttons clears any buttons it replaces.
type ChannelMessage struct {
	Content string
	Buttons []Button
}

type SlashCommandOption struct {
	Name        string
	Description string
	Required    bool
	Choices     []string
}

type SlashCommandDefinition struct {
	Name        string
	Description string
	Options     []SlashCommandOption
}

type SlashCommandEvent struct {
	InteractionID string
	GuildID       string
	ChannelID     string
	CommandName   string
	UserID        string
	Options       map[string]string
	// MentionedUserIDs holds the users mentioned in string options, in
	// order of first mention.
	MentionedUserIDs []string
	RespondEphemeral func(content string) error
}

type ComponentEvent struct {
	InteractionID    string
	GuildID          string
	ChannelID        string
	MessageID        string
	CustomID         string
	UserID           string
	RespondEphemeral func(content string) error
}

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	SendChannelMessage(channelID string, msg ChannelMessage) (string, error)
	EditChannelMessage(channelID, messageID string, msg ChannelMessage) error
	RegisterSlashCommandHandler(handler func(SlashCommandEvent))
	RegisterComponentHandler(handler func(ComponentEvent))
	UpsertGuildSlashCommands(guildID string, defs []SlashCommandDefinition) error
	GetBotUserID() (string, error)
	Run() error
}
