package notify

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/bwmarrin/discordgo"
)

// ChannelSender is the part of *discordgo.Session the Discord notifier uses.
type ChannelSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notices as embeds to a single operations channel.
type Discord struct {
	sender    ChannelSender
	channelID string
}

// NewDiscord returns a Discord notifier sending through a bot session.
func NewDiscord(token, channelID string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return NewDiscordWithSender(session, channelID), nil
}

// NewDiscordWithSender returns a Discord notifier using sender.
func NewDiscordWithSender(sender ChannelSender, channelID string) *Discord {
	return &Discord{sender: sender, channelID: channelID}
}

func (d *Discord) Notify(ctx context.Context, msg Message) error {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Kind.Subject(),
		Description: msg.To,
		Footer:      &discordgo.MessageEmbedFooter{Text: string(msg.Kind)},
	}
	for _, k := range slices.Sorted(maps.Keys(msg.Context)) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   k,
			Value:  msg.Context[k],
			Inline: true,
		})
	}
	if _, err := d.sender.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending discord message: %w", err)
	}
	return nil
}
