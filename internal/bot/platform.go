package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"

	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/progress"
	"github.com/coah80/mergebot/internal/transfer"
)

// interactionPlatform sends merged files as follow-up messages to the
// interaction that started the merge.
type interactionPlatform struct {
	s     *discordgo.Session
	i     *discordgo.InteractionCreate
	limit int64
}

func newInteractionPlatform(s *discordgo.Session, i *discordgo.InteractionCreate) *interactionPlatform {
	return &interactionPlatform{s: s, i: i, limit: config.MaxPlatformFile}
}

func (p *interactionPlatform) Upload(ctx context.Context, up transfer.Upload) (string, error) {
	if up.Size > p.limit {
		return "", fmt.Errorf("%w: %s is over %s", transfer.ErrTooLargeForPlatform, progress.Size(up.Size), progress.Size(p.limit))
	}

	params := &discordgo.WebhookParams{
		Files: []*discordgo.File{{
			Name:        up.Name,
			ContentType: contentType(up),
			Reader:      up.Body,
		}},
	}

	if up.AsVideo {
		embed := &discordgo.MessageEmbed{
			Title:  up.Name,
			Color:  colorSuccess,
			Footer: &discordgo.MessageEmbedFooter{Text: "mergebot · " + progress.Size(up.Size)},
		}
		if up.Thumbnail != "" {
			if f, err := os.Open(up.Thumbnail); err == nil {
				defer f.Close()
				thumbName := filepath.Base(up.Thumbnail)
				params.Files = append(params.Files, &discordgo.File{
					Name:        thumbName,
					ContentType: "image/jpeg",
					Reader:      f,
				})
				embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + thumbName}
			}
		}
		params.Embeds = []*discordgo.MessageEmbed{embed}
	}

	msg, err := p.s.FollowupMessageCreate(p.i.Interaction, true, params, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord upload: %w", err)
	}
	return msg.ID, nil
}

func contentType(up transfer.Upload) string {
	if up.AsVideo {
		return "video/x-matroska"
	}
	return "application/octet-stream"
}
