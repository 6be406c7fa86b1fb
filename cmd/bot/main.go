package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coah80/mergebot/internal/bot"
	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/media"
	"github.com/coah80/mergebot/internal/metrics"
	"github.com/coah80/mergebot/internal/middleware"
	"github.com/coah80/mergebot/internal/pipeline"
	"github.com/coah80/mergebot/internal/progress"
	"github.com/coah80/mergebot/internal/server"
	"github.com/coah80/mergebot/internal/session"
	"github.com/coah80/mergebot/internal/transfer"
	"github.com/coah80/mergebot/internal/util"
)

func main() {
	godotenv.Load()
	config.Load()

	if config.DiscordToken == "" {
		log.Fatal("DISCORD_TOKEN is required")
	}
	if config.DiscordAppID == "" {
		log.Fatal("DISCORD_APP_ID is required")
	}

	server.PrintBanner()

	if !util.CheckDependencies() {
		log.Fatal("ffmpeg and ffprobe are required")
	}
	if err := util.EnsureDir(config.DownloadDir); err != nil {
		log.Fatalf("Failed to prepare %s: %v", config.DownloadDir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	throttle := progress.NewThrottle(config.EditThrottle)
	store := session.NewStore(config.MaxFileSize)

	merger := media.NewMerger(media.NewProber(), throttle, m)
	fetcher := transfer.NewFetcher(config.MaxFileSize, config.DownloadTimeout, config.MaxConcurrentDownloads, throttle, m)
	deliverer := transfer.NewDeliverer(
		transfer.NewGofileClient(config.GofileToken),
		transfer.NewRclone(config.RcloneRemote, config.RcloneFolder),
		merger, throttle, m,
	)
	runner := pipeline.New(pipeline.Config{
		WorkRoot:        config.DownloadDir,
		RcloneConfigDir: config.RcloneConfigDir,
	}, store, fetcher, merger, deliverer, throttle, m)

	store.StartSweeper(ctx, config.SweepInterval, config.SessionIdleTimeout)

	limiter := middleware.NewLimiter(30, time.Minute)
	limiter.StartCleanup(ctx)
	srv := server.New(server.Deps{
		Metrics:  m,
		Limiter:  limiter,
		Active:   runner.Active,
		Sessions: store.Len,
		DiskRoot: config.DownloadDir,
		Started:  time.Now(),
	})
	go func() {
		log.Printf("Status server listening on :%s", config.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Status server failed: %v", err)
		}
	}()

	b, err := bot.New(bot.Config{
		Token: config.DiscordToken,
		AppID: config.DiscordAppID,
	}, store, runner, throttle)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	if err := b.Start(); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	fmt.Println("Bot is running. Press Ctrl+C to stop.")
	<-ctx.Done()

	fmt.Println("\nShutting down bot...")
	b.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runner.Wait(shutdownCtx); err != nil {
		log.Printf("Pipelines did not finish cleanup: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Status server shutdown: %v", err)
	}
	fmt.Println("Bot stopped.")
}
