package bot

import (
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/session"
	"github.com/coah80/mergebot/internal/transfer"
	"github.com/coah80/mergebot/internal/util"
)

const (
	kindVideo    = "video"
	kindAudio    = "audio"
	kindSubtitle = "subtitle"
)

type addOptions struct {
	kind         string
	attachmentID string
	url          string
	slot         int
}

func parseAddOptions(data discordgo.ApplicationCommandInteractionData) addOptions {
	var o addOptions
	for _, opt := range data.Options {
		switch opt.Name {
		case "kind":
			o.kind = opt.StringValue()
		case "file":
			if v, ok := opt.Value.(string); ok {
				o.attachmentID = v
			}
		case "url":
			o.url = opt.StringValue()
		case "slot":
			o.slot = int(opt.IntValue())
		}
	}
	return o
}

// ref resolves the attachment or URL the user supplied. Attachments win
// when both are given.
func (o addOptions) ref(resolved *discordgo.ApplicationCommandInteractionDataResolved) (session.Ref, error) {
	if o.attachmentID != "" {
		if resolved == nil || resolved.Attachments[o.attachmentID] == nil {
			return session.Ref{}, errNoFile
		}
		att := resolved.Attachments[o.attachmentID]
		return session.Ref{URL: att.URL, Filename: att.Filename, Size: int64(att.Size)}, nil
	}
	if o.url != "" {
		if !config.EnableURLDownload {
			return session.Ref{}, errURLDisabled
		}
		if err := util.ValidateURL(o.url, config.SupportedDomains); err != nil {
			return session.Ref{}, err
		}
		return session.Ref{URL: o.url}, nil
	}
	return session.Ref{}, errNoFile
}

func (o addOptions) apply(sess *session.Session, ref session.Ref) error {
	switch o.kind {
	case kindVideo:
		return sess.AddVideo(ref)
	case kindAudio:
		return sess.PairAudio(ref)
	case kindSubtitle:
		index := o.slot - 1
		if o.slot == 0 {
			index = len(sess.Videos) - 1
		}
		return sess.PairSubtitle(index, ref)
	}
	return fmt.Errorf("unknown kind %q", o.kind)
}

func (b *Bot) handleAdd(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	opts := parseAddOptions(data)

	ref, err := opts.ref(data.Resolved)
	if err != nil {
		respondEmbed(s, i, errorEmbed("Couldn't add file", ToUserError(err)), true)
		return
	}

	uid := userID(i)
	err = b.store.Update(uid, func(sess *session.Session) error {
		return opts.apply(sess, ref)
	})
	if err != nil {
		respondEmbed(s, i, errorEmbed("Couldn't add file", ToUserError(err)), true)
		return
	}

	snap, _ := b.store.Snapshot(uid)
	respondEmbed(s, i, queueEmbed(snap, fmt.Sprintf("Added `%s` as %s", displayName(ref), opts.kind)), true)
}

func (b *Bot) handleQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	snap, ok := b.store.Snapshot(userID(i))
	if !ok {
		respondEmbed(s, i, infoEmbed("Queue is empty", "Add files with `/add` to get started."), true)
		return
	}
	respondEmbed(s, i, queueEmbed(snap, ""), true)
}

func (b *Bot) handleDestination(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var to string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "to" {
			to = opt.StringValue()
		}
	}

	dest, ok := transfer.ParseDestination(to)
	if !ok {
		respondEmbed(s, i, errorEmbed("Unknown destination", fmt.Sprintf("`%s` is not a destination", to)), true)
		return
	}
	if dest == transfer.RemoteSync && !util.RcloneAvailable {
		respondEmbed(s, i, errorEmbed("rclone unavailable", "rclone is not installed on this bot."), true)
		return
	}

	err := b.store.Update(userID(i), func(sess *session.Session) error {
		sess.SetDestination(dest)
		return nil
	})
	if err != nil {
		respondEmbed(s, i, errorEmbed("Couldn't change destination", ToUserError(err)), true)
		return
	}
	respondEmbed(s, i, infoEmbed("Destination set", destinationText(dest)), true)
}

func (b *Bot) handleRename(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var name string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "name" {
			name = opt.StringValue()
		}
	}

	var rename string
	err := b.store.Update(userID(i), func(sess *session.Session) error {
		sess.SetRename(name)
		rename = sess.Rename
		return nil
	})
	if err != nil {
		respondEmbed(s, i, errorEmbed("Couldn't rename", ToUserError(err)), true)
		return
	}
	if rename == "" {
		respondEmbed(s, i, infoEmbed("Name reset", "The merged file keeps its default name."), true)
		return
	}
	respondEmbed(s, i, infoEmbed("Name set", fmt.Sprintf("Output will be named `%s.%s`", rename, config.OutputExt)), true)
}

func (b *Bot) handleMerge(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		log.Printf("[Bot] Failed to defer merge response: %v", err)
		return
	}

	go b.processMerge(s, i)
}

func (b *Bot) processMerge(s *discordgo.Session, i *discordgo.InteractionCreate) {
	uid := userID(i)
	sink := newInteractionSink(s, i)
	b.throttle.Done(b.ctx, sink, "⏳ **Starting merge...**")

	out, err := b.runner.Run(b.ctx, uid, sink, newInteractionPlatform(s, i))
	if err != nil {
		editEmbed(s, i, errorEmbed("Merge Failed", ToUserError(err)))
		return
	}
	editEmbed(s, i, successEmbed(out))
}

func (b *Bot) handleCancel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if b.runner.Cancel(userID(i)) {
		respondEmbed(s, i, infoEmbed("Cancelling", "Stopping your merge and cleaning up..."), true)
		return
	}
	respondEmbed(s, i, infoEmbed("Queue cleared", "Everything you queued has been removed."), true)
}

func (b *Bot) handleStats(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		log.Printf("[Bot] Failed to defer stats response: %v", err)
		return
	}

	go func() {
		st := util.CollectHostStats(b.ctx, config.DownloadDir, b.started)
		editEmbed(s, i, statsEmbed(st, b.runner.Active(), b.store.Len()))
	}()
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		log.Printf("[Bot] Failed to respond: %v", err)
	}
}

func editEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	}); err != nil {
		log.Printf("[Bot] Failed to edit response: %v", err)
	}
}
