package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"chatdesk/internal/backend"
	"chatdesk/internal/client"
	"chatdesk/internal/config"
	"chatdesk/internal/domain"
	"chatdesk/internal/identity"
	"chatdesk/internal/logging"
	"chatdesk/internal/metrics"
	"chatdesk/internal/ops"
	"chatdesk/internal/sound"
)

func main() {
	for _, path := range []string{".env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}

	metrics.MustRegister()

	eng := newSoundEngine(cfg, log)
	api := backend.New(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout, cfg.Backend.UploadTimeout, log)
	ids := identity.NewStore(cfg.Identity.Dir)
	notify := client.LogNotifier{Log: log}

	ac := client.NewAgentClient(cfg, api, ids, eng, notify, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restored, err := ac.Restore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to restore credentials")
	}
	if !restored {
		creds := domain.AgentLogin{
			Email:    os.Getenv("AGENT_EMAIL"),
			Password: os.Getenv("AGENT_PASSWORD"),
		}
		if creds.Email == "" || creds.Password == "" {
			log.Fatal().Msg("no stored credentials; set AGENT_EMAIL and AGENT_PASSWORD")
		}
		if err := ac.Login(ctx, creds); err != nil {
			// AGENT_NAME opts in to creating the account on first run.
			name := os.Getenv("AGENT_NAME")
			if name == "" {
				log.Fatal().Err(err).Msg("login failed")
			}
			log.Warn().Err(err).Msg("login failed, registering new account")
			if err := ac.Register(ctx, domain.AgentCreate{
				Email:    creds.Email,
				Password: creds.Password,
				Name:     name,
			}); err != nil {
				log.Fatal().Err(err).Msg("registration failed")
			}
		}
	}
	log.Info().Str("agent", ac.Agent().Name).Msg("authenticated")

	if err := api.SetAgentStatus(ctx, ac.Agent().ID, true); err != nil {
		log.Warn().Err(err).Msg("failed to set agent online")
	}

	// Playback stays locked until the operator interacts once.
	go func() {
		reader := bufio.NewReader(os.Stdin)
		if _, err := reader.ReadByte(); err == nil {
			eng.Unlock()
			log.Info().Msg("sound unlocked")
		}
	}()

	var opsServer *ops.Server
	if cfg.Ops.Enabled {
		opsServer = ops.New(cfg.Ops, ac.Connected, log)
		go func() {
			if err := opsServer.Start(); err != nil {
				log.Error().Err(err).Msg("ops server failed")
			}
		}()
	}

	runErr := ac.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ac.Logout(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("logout failed")
	}
	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("ops shutdown failed")
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		if errors.Is(runErr, domain.ErrRetryExhausted) {
			log.Error().Msg("gave up reconnecting; backend unreachable")
		}
		log.Fatal().Err(runErr).Msg("agent stopped")
	}
	log.Info().Msg("shutdown complete")
}

// newSoundEngine opens the audio device, degrading to silence on headless
// hosts or when sound is disabled.
func newSoundEngine(cfg *config.Config, log zerolog.Logger) *sound.Engine {
	var player sound.Player = sound.NoopPlayer{}
	if cfg.Sound.Enabled {
		p, err := sound.NewOtoPlayer()
		if err != nil {
			log.Warn().Err(err).Msg("audio unavailable, notifications muted")
		} else {
			player = p
		}
	}
	return sound.NewEngine(player, cfg.Sound.Debounce, cfg.Sound.Volume, log)
}
