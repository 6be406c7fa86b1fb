package bot

import (
	"context"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/coah80/mergebot/internal/alerts"
	"github.com/coah80/mergebot/internal/pipeline"
	"github.com/coah80/mergebot/internal/progress"
	"github.com/coah80/mergebot/internal/session"
)

type Config struct {
	Token string
	AppID string
}

type Bot struct {
	session  *discordgo.Session
	cfg      Config
	cmdIDs   []string
	disk     *diskMonitor
	store    *session.Store
	runner   *pipeline.Runner
	throttle *progress.Throttle
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, store *session.Store, runner *pipeline.Runner, throttle *progress.Throttle) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		session:  s,
		cfg:      cfg,
		store:    store,
		runner:   runner,
		throttle: throttle,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.AddHandler(b.handleInteraction)
	s.Identify.Intents = discordgo.IntentsGuilds

	return b, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return err
	}

	log.Printf("Bot logged in as %s", b.session.State.User.Username)
	alerts.BotStarted(b.session.State.User.Username)

	b.disk = newDiskMonitor()
	b.disk.start(b.ctx)

	commands := b.commandDefinitions()
	for _, cmd := range commands {
		created, err := b.session.ApplicationCommandCreate(b.cfg.AppID, "", cmd)
		if err != nil {
			log.Printf("Failed to register command %s: %v", cmd.Name, err)
			continue
		}
		b.cmdIDs = append(b.cmdIDs, created.ID)
		log.Printf("Registered command: /%s", created.Name)
	}

	return nil
}

// Stop cancels running merges, which clean up after themselves, then
// unregisters commands and disconnects.
func (b *Bot) Stop() {
	alerts.BotStopping()
	b.cancel()
	for _, id := range b.cmdIDs {
		b.session.ApplicationCommandDelete(b.cfg.AppID, "", id)
	}
	b.session.Close()
}

var (
	integrationTypes = &[]discordgo.ApplicationIntegrationType{
		discordgo.ApplicationIntegrationGuildInstall,
		discordgo.ApplicationIntegrationUserInstall,
	}
	contexts = &[]discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
		discordgo.InteractionContextPrivateChannel,
	}
)

func (b *Bot) commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:             "add",
			Description:      "Queue a video, audio track or subtitle for merging",
			IntegrationTypes: integrationTypes,
			Contexts:         contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "kind",
					Description: "What this file is",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Video", Value: kindVideo},
						{Name: "Audio track", Value: kindAudio},
						{Name: "Subtitle", Value: kindSubtitle},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "file",
					Description: "The file to add",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "url",
					Description: "A direct link to the file",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "slot",
					Description: "Video number the subtitle belongs to (default: last video)",
					Required:    false,
					MinValue:    &[]float64{1}[0],
					MaxValue:    10,
				},
			},
		},
		{
			Name:             "queue",
			Description:      "Show what is queued for merging",
			IntegrationTypes: integrationTypes,
			Contexts:         contexts,
		},
		{
			Name:             "destination",
			Description:      "Choose where the merged file is sent",
			IntegrationTypes: integrationTypes,
			Contexts:         contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "to",
					Description: "Upload destination",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Discord video (Recommended)", Value: "video"},
						{Name: "Discord file", Value: "document"},
						{Name: "GoFile link", Value: "gofile"},
						{Name: "rclone remote", Value: "rclone"},
					},
				},
			},
		},
		{
			Name:             "rename",
			Description:      "Set the name of the merged file",
			IntegrationTypes: integrationTypes,
			Contexts:         contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "New file name (leave empty for the default)",
					Required:    false,
				},
			},
		},
		{
			Name:             "merge",
			Description:      "Merge everything in your queue",
			IntegrationTypes: integrationTypes,
			Contexts:         contexts,
		},
		{
			Name:             "cancel",
			Description:      "Stop the running merge or clear your queue",
			IntegrationTypes: integrationTypes,
			Contexts:         contexts,
		},
		{
			Name:             "stats",
			Description:      "Show bot and host status",
			IntegrationTypes: integrationTypes,
			Contexts:         contexts,
		},
	}
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()

	switch data.Name {
	case "add":
		b.handleAdd(s, i)
	case "queue":
		b.handleQueue(s, i)
	case "destination":
		b.handleDestination(s, i)
	case "rename":
		b.handleRename(s, i)
	case "merge":
		b.handleMerge(s, i)
	case "cancel":
		b.handleCancel(s, i)
	case "stats":
		b.handleStats(s, i)
	}
}

// userID is the invoking user in guilds and DMs alike.
func userID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
