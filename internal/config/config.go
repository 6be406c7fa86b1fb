package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

var Version = "dev"

var (
	DiscordToken string
	DiscordAppID string

	HTTPPort    string
	CORSOrigins []string

	DownloadDir            string
	DownloadTimeout        time.Duration
	MaxFileSize            int64
	MaxConcurrentDownloads int
	EnableURLDownload      bool

	GofileToken string

	RcloneRemote    string
	RcloneFolder    string
	RcloneConfigDir string

	AlertWebhookURL string
	AlertPingUserID string
	Alerts          bool

	SessionIdleTimeout time.Duration
)

const (
	EditThrottle       = 4 * time.Second
	MaxVideoSlots      = 10
	MaxAudioTracks     = 10
	ChunkSize          = 1024 * 1024
	MaxPlatformFile    = 25 * 1024 * 1024
	DiskSpaceMinGB     = 5
	SweepInterval      = 5 * time.Minute
	OutputExt          = "mkv"
	DefaultDownloadExt = "mp4"
)

var VideoExtensions = []string{"mkv", "mp4", "webm", "ts", "wav", "mov", "avi", "flv", "3gp", "m4v"}

var AudioExtensions = []string{"aac", "ac3", "eac3", "m4a", "mka", "thd", "dts", "mp3", "flac", "ogg"}

var SubtitleExtensions = []string{"srt", "ass", "ssa", "vtt"}

var SupportedDomains = []string{
	"drive.google.com",
	"mega.nz",
	"mediafire.com",
	"zippyshare.com",
	"direct.link",
	"cdn.discordapp.com",
	"media.discordapp.net",
	"github.com",
	"raw.githubusercontent.com",
	"dropbox.com",
	"onedrive.live.com",
	"gofile.io",
	"pixeldrain.com",
}

func Load() {
	DiscordToken = os.Getenv("DISCORD_TOKEN")
	DiscordAppID = os.Getenv("DISCORD_APP_ID")

	HTTPPort = envOrDefault("HTTP_PORT", "3001")
	CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"))

	DownloadDir = envOrDefault("DOWNLOAD_DIR", "downloads")
	DownloadTimeout = time.Duration(envInt("DOWNLOAD_TIMEOUT", 300)) * time.Second
	MaxFileSize = envInt64("MAX_FILE_SIZE", 4*1024*1024*1024)
	MaxConcurrentDownloads = envInt("MAX_CONCURRENT_DOWNLOADS", 3)
	if MaxConcurrentDownloads < 1 {
		MaxConcurrentDownloads = 1
	}
	EnableURLDownload = envBool("ENABLE_URL_DOWNLOAD", true)

	GofileToken = os.Getenv("GOFILE_TOKEN")
	if GofileToken == "" {
		log.Println("[WARN] GOFILE_TOKEN not set, GoFile uploads will be anonymous")
	}

	RcloneRemote = envOrDefault("RCLONE_REMOTE", "drive")
	RcloneFolder = envOrDefault("RCLONE_FOLDER", "root")
	RcloneConfigDir = envOrDefault("RCLONE_CONFIG_DIR", "userdata")

	AlertWebhookURL = os.Getenv("ALERT_WEBHOOK_URL")
	AlertPingUserID = os.Getenv("ALERT_PING_USER_ID")
	Alerts = AlertWebhookURL != ""

	idleMin := envInt("SESSION_IDLE_TIMEOUT", 60)
	if idleMin < 1 {
		idleMin = 60
	}
	SessionIdleTimeout = time.Duration(idleMin) * time.Minute
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envInt64(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}

// Ext returns the lowercased extension of name without the leading dot.
func Ext(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
