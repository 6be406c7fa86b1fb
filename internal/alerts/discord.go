package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coah80/mergebot/internal/config"
)

var (
	mu                sync.Mutex
	categoryCooldowns = make(map[string]time.Time)
	client            = &http.Client{Timeout: 10 * time.Second}
)

const (
	colorOrange = 0xFFA500
	colorRed    = 0xFF4444
	colorCrit   = 0xFF0000
	colorGreen  = 0x2ECC71
)

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp"`
	Footer      *footer `json:"footer,omitempty"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type footer struct {
	Text string `json:"text"`
}

type payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds"`
}

func send(category string, cooldown time.Duration, ping bool, color int, title, description string, fields []field) {
	if !config.Alerts || config.AlertWebhookURL == "" {
		return
	}

	mu.Lock()
	now := time.Now()
	if cooldown > 0 {
		if last, ok := categoryCooldowns[category]; ok && now.Sub(last) < cooldown {
			mu.Unlock()
			return
		}
	}
	categoryCooldowns[category] = now
	mu.Unlock()

	var embedFields []field
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		f.Value = truncate(f.Value, 1024)
		f.Inline = true
		embedFields = append(embedFields, f)
	}

	p := payload{
		Embeds: []embed{{
			Title:       title,
			Description: truncate(description, 2048),
			Color:       color,
			Fields:      embedFields,
			Timestamp:   now.UTC().Format(time.RFC3339),
			Footer:      &footer{Text: "mergebot " + config.Version},
		}},
	}

	if ping && config.AlertPingUserID != "" {
		p.Content = fmt.Sprintf("<@%s>", config.AlertPingUserID)
	}

	body, _ := json.Marshal(p)
	url := config.AlertWebhookURL
	go func() {
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("[Alerts] send failed: %v", err)
			return
		}
		resp.Body.Close()
	}()
}

func BotStarted(username string) {
	send("bot-start", 0, false, colorGreen, "Bot Started", fmt.Sprintf("mergebot %s logged in as %s", config.Version, username), nil)
}

func BotStopping() {
	send("bot-stop", 0, false, colorOrange, "Bot Stopping", "mergebot is shutting down", nil)
}

// PipelineFailed reports a merge request that ended in an error. stage is
// the step that failed: download, merge or upload.
func PipelineFailed(userID, sessionID, stage string, err error) {
	send("pipeline-"+stage, 5*time.Second, true, colorRed, "Merge Failed", err.Error(), []field{
		{Name: "User", Value: userID},
		{Name: "Session", Value: sessionID},
		{Name: "Stage", Value: stage},
		{Name: "Error", Value: truncate(err.Error(), 500)},
	})
}

func LowDiskSpace(availGB float64) {
	send("disk", 10*time.Minute, true, colorCrit, "Low Disk Space", fmt.Sprintf("Only %.1fGB free in %s", availGB, config.DownloadDir), nil)
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}

// reset clears cooldown state. Used by tests.
func reset() {
	mu.Lock()
	categoryCooldowns = make(map[string]time.Time)
	mu.Unlock()
}
