// Package bot is the Discord surface: slash commands for clipping
// routes, bookmark fan-out, and plain-message link pickup. It owns no
// render logic; everything funnels into the clip queue.
package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"opclip/internal/clip"
	"opclip/internal/commaapi"
)

// Bot wires a Discord session to the clip queue.
type Bot struct {
	session *discordgo.Session
	queue   *clip.Queue
	api     *commaapi.Client
	logger  *zap.Logger

	watchMessages bool

	mu             sync.RWMutex
	defaultClipLen int // seconds, for links posted without timing
}

// Options tunes the bot.
type Options struct {
	// WatchMessages also clips connect links from ordinary messages.
	WatchMessages bool

	// DefaultClipSeconds is the window used for inputs without timing.
	DefaultClipSeconds int
}

// New creates the bot. The token is the raw bot token from the Discord
// developer portal.
func New(token string, queue *clip.Queue, api *commaapi.Client, opts Options, logger *zap.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("missing discord token")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultClipSeconds < 1 {
		opts.DefaultClipSeconds = 10
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}

	b := &Bot{
		session:        session,
		queue:          queue,
		api:            api,
		logger:         logger,
		watchMessages:  opts.WatchMessages,
		defaultClipLen: opts.DefaultClipSeconds,
	}

	session.Identify.Intents = discordgo.IntentsGuilds
	if b.watchMessages {
		session.Identify.Intents |= discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	if b.watchMessages {
		session.AddHandler(b.onMessage)
	}

	return b, nil
}

// SetDefaultClipSeconds updates the no-timing window; used by config
// hot reload.
func (b *Bot) SetDefaultClipSeconds(seconds int) {
	if seconds < 1 {
		return
	}
	b.mu.Lock()
	b.defaultClipLen = seconds
	b.mu.Unlock()
}

func (b *Bot) defaultClipSeconds() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.defaultClipLen
}

// Run opens the gateway connection and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	b.logger.Info("discord gateway connected")

	<-ctx.Done()

	b.logger.Info("closing discord gateway")
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("closing discord gateway: %w", err)
	}
	return ctx.Err()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("logged in", zap.String("user", r.User.Username))

	for _, cmd := range commandDefinitions() {
		if _, err := s.ApplicationCommandCreate(r.User.ID, "", cmd); err != nil {
			b.logger.Error("failed to register command", zap.String("command", cmd.Name), zap.Error(err))
		}
	}
}

// interactionUser works in both guild and DM interactions.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}
