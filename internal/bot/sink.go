package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// interactionSink shows progress by editing the deferred response of one
// interaction.
type interactionSink struct {
	s *discordgo.Session
	i *discordgo.InteractionCreate
}

func newInteractionSink(s *discordgo.Session, i *discordgo.InteractionCreate) *interactionSink {
	return &interactionSink{s: s, i: i}
}

func (k *interactionSink) ID() string {
	return k.i.ID
}

func (k *interactionSink) Edit(ctx context.Context, text string) error {
	_, err := k.s.InteractionResponseEdit(k.i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{progressEmbed(text)},
	}, discordgo.WithContext(ctx))
	return err
}
