package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"chatdesk/internal/backend"
	"chatdesk/internal/client"
	"chatdesk/internal/config"
	"chatdesk/internal/domain"
	"chatdesk/internal/identity"
	"chatdesk/internal/logging"
	"chatdesk/internal/metrics"
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

	vc := client.NewVisitorClient(cfg, api, ids, eng, consoleNotifier{}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resumed, err := vc.Restore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to restore conversation")
	}

	reader := bufio.NewScanner(os.Stdin)
	if !resumed {
		fmt.Print("Your name: ")
		if !reader.Scan() {
			return
		}
		name := strings.TrimSpace(reader.Text())
		if name == "" {
			name = "Guest"
		}
		if err := vc.Start(ctx, name); err != nil {
			log.Fatal().Err(err).Msg("failed to start conversation")
		}
		fmt.Println("Connected. Type a message, /file <path> to share, /quit to leave.")
	} else {
		fmt.Printf("Welcome back, %s.\n", vc.Identity().Name)
		for _, m := range vc.Stream.Messages() {
			printMessage(m)
		}
	}

	vc.OnMessage = printMessage
	go func() {
		if err := vc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("connection lost")
			stop()
		}
	}()

	for reader.Scan() {
		eng.Unlock()
		line := strings.TrimSpace(reader.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/file "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/file "))
			att, err := domain.NewPendingAttachment(path)
			if err != nil {
				if errors.Is(err, domain.ErrAttachmentTooLarge) {
					fmt.Println("File is over the 10 MB limit.")
				} else {
					fmt.Printf("Cannot attach file: %v\n", err)
				}
				continue
			}
			if err := vc.SendAttachment(ctx, att, ""); err != nil {
				fmt.Printf("Send failed: %v\n", err)
			}
		default:
			if err := vc.SendText(line); err != nil {
				if errors.Is(err, domain.ErrSessionClosed) {
					fmt.Println("This chat has ended.")
					return
				}
				fmt.Printf("Send failed: %v\n", err)
			}
		}
	}
}

func printMessage(m domain.Message) {
	who := m.SenderName
	if who == "" {
		who = string(m.SenderType)
	}
	if m.Type != domain.MessageText && m.FileURL != "" {
		fmt.Printf("[%s] %s (%s)\n", who, m.Content, m.FileURL)
		return
	}
	fmt.Printf("[%s] %s\n", who, m.Content)
}

// consoleNotifier prints notices inline with the conversation.
type consoleNotifier struct{}

func (consoleNotifier) Info(msg string)    { fmt.Println("* " + msg) }
func (consoleNotifier) Success(msg string) { fmt.Println("* " + msg) }
func (consoleNotifier) Error(msg string)   { fmt.Println("! " + msg) }

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
