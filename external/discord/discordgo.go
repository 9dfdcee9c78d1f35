package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/pokerbot/internal/discord"
)

// Discord renders at most five buttons per action row and five rows per message.
const (
	maxButtonsPerRow = 5
	maxButtonRows    = 5
)

var userMentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

type Client struct {
	session   *discordgo.Session
	token     string
	botUserID string
}

func NewClient(token string) discordpkg.Client {
	return &Client{
		token: token,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	_ = ctx
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return err
	}
	c.session = s
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds)
	if err := s.Open(); err != nil {
		return err
	}
	userID, err := c.GetBotUserID()
	if err != nil {
		return err
	}
	c.botUserID = userID
	return nil
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Client) SendChannelMessage(channelID string, msg discordpkg.ChannelMessage) (string, error) {
	sent, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    msg.Content,
		Components: buttonRows(msg.Buttons),
	})
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

func (c *Client) EditChannelMessage(channelID, messageID string, msg discordpkg.ChannelMessage) error {
	content := msg.Content
	components := buttonRows(msg.Buttons)
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	_, err := c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         messageID,
		Channel:    channelID,
		Content:    &content,
		Components: &components,
	})
	if isRESTNotFound(err) {
		slog.Warn("message to edit no longer exists", "channel_id", channelID, "message_id", messageID)
		return nil
	}
	return err
}

func buttonRows(buttons []discordpkg.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	var rows []discordgo.MessageComponent
	for chunk := range slices.Chunk(buttons, maxButtonsPerRow) {
		if len(rows) == maxButtonRows {
			slog.Warn("dropping buttons beyond discord row limit", "buttons", len(buttons))
			break
		}
		row := discordgo.ActionsRow{Components: make([]discordgo.MessageComponent, 0, len(chunk))}
		for _, b := range chunk {
			row.Components = append(row.Components, discordgo.Button{
				Label:    b.Label,
				Style:    buttonStyle(b.Style),
				CustomID: b.CustomID,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func buttonStyle(style discordpkg.ButtonStyle) discordgo.ButtonStyle {
	switch style {
	case discordpkg.ButtonStyleSecondary:
		return discordgo.SecondaryButton
	case discordpkg.ButtonStyleSuccess:
		return discordgo.SuccessButton
	case discordpkg.ButtonStyleDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

func (c *Client) RegisterSlashCommandHandler(handler func(discordpkg.SlashCommandEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic == nil || ic.Type != discordgo.InteractionApplicationCommand {
			return
		}
		data := ic.ApplicationCommandData()
		if data.Name == "" {
			return
		}
		userID := interactionUserID(ic)
		if userID == "" {
			return
		}
		options, mentioned := commandOptions(data.Options)
		slog.Info("slash command interaction received", "guild_id", ic.GuildID, "channel_id", ic.ChannelID, "command", data.Name, "user_id", userID, "interaction_id", ic.ID)
		handler(discordpkg.SlashCommandEvent{
			InteractionID:    ic.ID,
			GuildID:          ic.GuildID,
			ChannelID:        ic.ChannelID,
			CommandName:      data.Name,
			UserID:           userID,
			Options:          options,
			MentionedUserIDs: mentioned,
			RespondEphemeral: ephemeralResponder(s, ic),
		})
	})
}

func (c *Client) RegisterComponentHandler(handler func(discordpkg.ComponentEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic == nil || ic.Type != discordgo.InteractionMessageComponent {
			return
		}
		data := ic.MessageComponentData()
		userID := interactionUserID(ic)
		if data.CustomID == "" || userID == "" {
			return
		}
		messageID := ""
		if ic.Message != nil {
			messageID = ic.Message.ID
		}
		slog.Info("component interaction received", "guild_id", ic.GuildID, "channel_id", ic.ChannelID, "custom_id", data.CustomID, "user_id", userID, "interaction_id", ic.ID)
		handler(discordpkg.ComponentEvent{
			InteractionID:    ic.ID,
			GuildID:          ic.GuildID,
			ChannelID:        ic.ChannelID,
			MessageID:        messageID,
			CustomID:         data.CustomID,
			UserID:           userID,
			RespondEphemeral: ephemeralResponder(s, ic),
		})
	})
}

func interactionUserID(ic *discordgo.InteractionCreate) string {
	if ic.Member != nil && ic.Member.User != nil {
		return ic.Member.User.ID
	}
	if ic.User != nil {
		return ic.User.ID
	}
	return ""
}

func ephemeralResponder(s *discordgo.Session, ic *discordgo.InteractionCreate) func(string) error {
	return func(content string) error {
		return s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
	}
}

func commandOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) (map[string]string, []string) {
	values := make(map[string]string, len(opts))
	var mentioned []string
	for _, opt := range opts {
		if opt == nil || opt.Type != discordgo.ApplicationCommandOptionString {
			continue
		}
		v := opt.StringValue()
		values[opt.Name] = v
		for _, id := range mentionedUserIDs(v) {
			if !slices.Contains(mentioned, id) {
				mentioned = append(mentioned, id)
			}
		}
	}
	return values, mentioned
}

func mentionedUserIDs(text string) []string {
	var ids []string
	for _, m := range userMentionPattern.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(ids, m[1]) {
			ids = append(ids, m[1])
		}
	}
	return ids
}

func (c *Client) UpsertGuildSlashCommands(guildID string, defs []discordpkg.SlashCommandDefinition) error {
	appID := c.applicationID()
	if appID == "" {
		return fmt.Errorf("discord application id is not available")
	}
	existing, err := c.session.ApplicationCommands(appID, guildID)
	if err != nil {
		return err
	}
	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		if cmd == nil || cmd.Name == "" {
			continue
		}
		existingByName[cmd.Name] = cmd
	}
	for _, def := range defs {
		if err := c.upsertGuildSlashCommand(appID, guildID, def, existingByName); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) upsertGuildSlashCommand(appID, guildID string, def discordpkg.SlashCommandDefinition, existingByName map[string]*discordgo.ApplicationCommand) error {
	if def.Name == "" {
		return nil
	}
	payload := applicationCommand(def)
	cmd, ok := existingByName[def.Name]
	if !ok {
		_, err := c.session.ApplicationCommandCreate(appID, guildID, payload)
		return err
	}
	if sameCommand(cmd, payload) {
		return nil
	}
	_, err := c.session.ApplicationCommandEdit(appID, guildID, cmd.ID, payload)
	return err
}

func applicationCommand(def discordpkg.SlashCommandDefinition) *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Name:        def.Name,
		Description: def.Description,
	}
	for _, opt := range def.Options {
		o := &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        opt.Name,
			Description: opt.Description,
			Required:    opt.Required,
		}
		for _, choice := range opt.Choices {
			o.Choices = append(o.Choices, &discordgo.ApplicationCommandOptionChoice{Name: choice, Value: choice})
		}
		cmd.Options = append(cmd.Options, o)
	}
	return cmd
}

// sameCommand compares the fields this bot manages; Discord fills in others.
func sameCommand(a, b *discordgo.ApplicationCommand) bool {
	if a.Description != b.Description || len(a.Options) != len(b.Options) {
		return false
	}
	for i, ao := range a.Options {
		bo := b.Options[i]
		if ao.Name != bo.Name || ao.Description != bo.Description || ao.Required != bo.Required || ao.Type != bo.Type {
			return false
		}
		if len(ao.Choices) != len(bo.Choices) {
			return false
		}
		for j := range ao.Choices {
			if ao.Choices[j].Name != bo.Choices[j].Name {
				return false
			}
		}
	}
	return true
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}

func (c *Client) GetBotUserID() (string, error) {
	if c.botUserID != "" {
		return c.botUserID, nil
	}
	if c.session == nil {
		return "", fmt.Errorf("discord session is not initialized")
	}
	if c.session.State != nil && c.session.State.User != nil && c.session.State.User.ID != "" {
		c.botUserID = c.session.State.User.ID
		return c.botUserID, nil
	}
	u, err := c.session.User("@me")
	if err != nil {
		return "", err
	}
	c.botUserID = u.ID
	return c.botUserID, nil
}

func (c *Client) applicationID() string {
	if c.session == nil || c.session.State == nil {
		return ""
	}
	if c.session.State.Application != nil && c.session.State.Application.ID != "" {
		return c.session.State.Application.ID
	}
	if c.session.State.User != nil {
		return c.session.State.User.ID
	}
	return ""
}

func (c *Client) Run() error {
	select {}
}
