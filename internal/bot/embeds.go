package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/pipeline"
	"github.com/coah80/mergebot/internal/progress"
	"github.com/coah80/mergebot/internal/session"
	"github.com/coah80/mergebot/internal/transfer"
	"github.com/coah80/mergebot/internal/util"
)

const (
	colorProgress = 0x5865F2
	colorSuccess  = 0x57F287
	colorError    = 0xED4245
	footerText    = "mergebot"
)

func progressEmbed(text string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: text,
		Color:       colorProgress,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}
}

func infoEmbed(title, message string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: message,
		Color:       colorProgress,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}
}

func successEmbed(out *pipeline.Outcome) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "File", Value: out.Name, Inline: true},
	}
	if out.Size > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Size", Value: progress.Size(out.Size), Inline: true,
		})
	}
	fields = append(fields, &discordgo.MessageEmbedField{
		Name: "Mode", Value: fmt.Sprintf("%s (%s)", out.Mode, out.Strategy), Inline: true,
	})

	switch out.Destination {
	case transfer.ObjectStorageLink:
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Download", Value: fmt.Sprintf("[Click here](%s)", out.Link),
		})
	case transfer.RemoteSync:
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Uploaded to", Value: "`" + out.Link + "`",
		})
	}

	return &discordgo.MessageEmbed{
		Title:  "Merge complete",
		Color:  colorSuccess,
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{Text: footerText},
	}
}

func errorEmbed(title, message string) *discordgo.MessageEmbed {
	if message == "" {
		message = "Something went wrong"
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: message,
		Color:       colorError,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Use /queue to check what is queued"},
	}
}

func queueEmbed(sess *session.Session, headline string) *discordgo.MessageEmbed {
	var b strings.Builder
	if headline != "" {
		b.WriteString(headline + "\n\n")
	}
	if sess.Empty() {
		b.WriteString("Nothing queued yet.")
	} else {
		for n, slot := range sess.Videos {
			fmt.Fprintf(&b, "**%d.** 🎬 `%s`", n+1, displayName(slot.Video))
			if slot.Video.Size > 0 {
				fmt.Fprintf(&b, " (%s)", progress.Size(slot.Video.Size))
			}
			if slot.Subtitle != nil {
				fmt.Fprintf(&b, "\n    💬 `%s`", displayName(*slot.Subtitle))
			}
			b.WriteString("\n")
		}
		for _, a := range sess.Audios {
			fmt.Fprintf(&b, "🎵 `%s`\n", displayName(a))
		}
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Videos", Value: fmt.Sprintf("%d/%d", len(sess.Videos), config.MaxVideoSlots), Inline: true},
		{Name: "Mode", Value: sess.Mode.String(), Inline: true},
		{Name: "Destination", Value: sess.Destination.String(), Inline: true},
	}
	if sess.Rename != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Output", Value: "`" + sess.Rename + "." + config.OutputExt + "`", Inline: true,
		})
	}

	return &discordgo.MessageEmbed{
		Title:       "Your queue",
		Description: strings.TrimSpace(b.String()),
		Color:       colorProgress,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Run /merge when you're ready"},
	}
}

func statsEmbed(st util.HostStats, active, sessions int) *discordgo.MessageEmbed {
	onOff := func(v bool) string {
		if v {
			return "enabled"
		}
		return "disabled"
	}
	return &discordgo.MessageEmbed{
		Title: "Bot status",
		Color: colorProgress,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Uptime", Value: st.UptimeText, Inline: true},
			{Name: "Active merges", Value: fmt.Sprint(active), Inline: true},
			{Name: "Sessions", Value: fmt.Sprint(sessions), Inline: true},
			{Name: "Disk", Value: fmt.Sprintf("%s free of %s (%.1f%% used)", progress.Size(int64(st.DiskFree)), progress.Size(int64(st.DiskTotal)), st.DiskPercent), Inline: false},
			{Name: "CPU", Value: fmt.Sprintf("%.1f%%", st.CPUPercent), Inline: true},
			{Name: "Memory", Value: fmt.Sprintf("%.1f%%", st.MemPercent), Inline: true},
			{Name: "Network", Value: fmt.Sprintf("↑ %s ↓ %s", progress.Size(int64(st.BytesSent)), progress.Size(int64(st.BytesRecv))), Inline: true},
			{Name: "URL downloads", Value: onOff(config.EnableURLDownload), Inline: true},
			{Name: "GoFile token", Value: onOff(config.GofileToken != ""), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: footerText + " " + config.Version},
	}
}

func destinationText(d transfer.Destination) string {
	switch d {
	case transfer.PlatformDocument:
		return "Merged files will be sent here as a file attachment."
	case transfer.ObjectStorageLink:
		return "Merged files will be uploaded to GoFile and you'll get a link."
	case transfer.RemoteSync:
		return fmt.Sprintf("Merged files will be copied to `%s:%s`.", config.RcloneRemote, config.RcloneFolder)
	default:
		return "Merged files will be sent here as a video."
	}
}

func displayName(ref session.Ref) string {
	if n := ref.Name(); n != "" {
		return n
	}
	return ref.URL
}
