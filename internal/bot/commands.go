package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"opclip/internal/clip"
	"opclip/internal/route"
)

const (
	commandClip      = "clip"
	commandBookmarks = "bookmarks"

	maxTitleLength = 80
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        commandClip,
			Description: "clip an openpilot route",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "route",
					Description: "the route or connect URL with timing info",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "title",
					Description: "an optional title to overlay",
					MaxLength:   maxTitleLength,
				},
			},
		},
		{
			Name:        commandBookmarks,
			Description: "clip your openpilot route bookmarks",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "route",
					Description: "the route or connect URL",
					Required:    true,
				},
			},
		},
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case commandClip:
		b.handleClip(s, i, data)
	case commandBookmarks:
		b.handleBookmarks(s, i, data)
	}
}

func optionValue(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name {
			return strings.TrimSpace(opt.StringValue())
		}
	}
	return ""
}

// deferEphemeral acknowledges the interaction so the render can take
// its time.
func (b *Bot) deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.logger.Error("failed to defer interaction", zap.Error(err))
		return false
	}
	return true
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content})
	if err != nil {
		b.logger.Warn("failed to edit interaction response", zap.Error(err))
	}
}

// resolveClip turns user input into a renderable clip, consulting the
// API for absolute-time URLs and applying the default window to bare
// routes when allowed.
func (b *Bot) resolveClip(ctx context.Context, input string, allowDefaultWindow bool) (route.Clip, error) {
	c, err := route.ParseClip(input)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, route.ErrNoTiming) {
		return route.Clip{}, err
	}

	if aw, ok := route.ParseAbsolute(input); ok {
		return b.api.ResolveAbsolute(ctx, aw)
	}

	if allowDefaultWindow {
		r, perr := route.Parse(input)
		if perr != nil {
			return route.Clip{}, perr
		}
		return route.Clip{
			Route:  r,
			Window: route.Window{StartSeconds: 0, EndSeconds: b.defaultClipSeconds()},
		}, nil
	}
	return route.Clip{}, err
}

func (b *Bot) handleClip(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if !b.deferEphemeral(s, i) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user := interactionUser(i)
	input := optionValue(data, "route")
	title := optionValue(data, "title")

	c, err := b.resolveClip(ctx, input, false)
	if err != nil {
		b.logger.Info("rejected clip input",
			zap.String("user", user.Username),
			zap.String("input", input),
			zap.Error(err))
		b.editResponse(s, i, "please enter a valid route or connect URL with timing info")
		return
	}

	reporter := newInteractionReporter(b, s, i, c)
	req := clip.NewRequest(user.Username, c, title, reporter)
	req.Requester = user.ID

	if _, err := b.queue.Enqueue(ctx, req); err != nil {
		b.editResponse(s, i, enqueueErrorMessage(err, b.queue.MaxClipLength()))
		return
	}

	b.logger.Info("clip requested",
		zap.String("user", user.Username),
		zap.String("user_id", user.ID),
		zap.String("clip", c.String()))
}

func (b *Bot) handleBookmarks(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if !b.deferEphemeral(s, i) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	user := interactionUser(i)
	input := optionValue(data, "route")

	r, err := route.Parse(input)
	if err != nil {
		b.editResponse(s, i, "please enter a valid route or connect URL")
		return
	}

	flags, err := b.api.UserFlags(ctx, r)
	if err != nil {
		b.logger.Warn("bookmark lookup failed", zap.String("route", r.Canonical()), zap.Error(err))
		b.editResponse(s, i, err.Error())
		return
	}
	if len(flags) == 0 {
		b.editResponse(s, i, "no bookmarks found, try creating a /clip instead!")
		return
	}

	reqs := clip.BookmarkRequests(user.ID, r, flags, nil)
	var queued []string
	for idx := range reqs {
		req := reqs[idx]
		req.Reporter = newBookmarkReporter(b, s, i, req)
		if _, err := b.queue.Enqueue(ctx, req); err != nil {
			b.editResponse(s, i, enqueueErrorMessage(err, b.queue.MaxClipLength()))
			return
		}
		queued = append(queued, fmt.Sprintf("[`%s`](%s)", req.BookmarkLabel(), req.Clip.ConnectURL()))
	}

	plural := "s"
	pronoun := "them"
	if len(flags) == 1 {
		plural = ""
		pronoun = "it"
	}
	b.editResponse(s, i, fmt.Sprintf("%d bookmark%s during route %s, processing %s...\n%s",
		len(flags), plural, r.Markdown(), pronoun, strings.Join(queued, ", ")))
}

// onMessage picks connect links out of ordinary messages.
func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	links := route.FindConnectLinks(m.Content)
	if len(links) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, link := range links {
		c, err := b.resolveClip(ctx, link, true)
		if err != nil {
			b.logger.Debug("ignoring unclippable link", zap.String("link", link), zap.Error(err))
			continue
		}

		reporter := newChannelReporter(b, s, m.ChannelID, m.Author, c)
		req := clip.NewRequest(m.Author.ID, c, "", reporter)
		if _, err := b.queue.Enqueue(ctx, req); err != nil {
			reporter.Failed(err)
		}
	}
}

func enqueueErrorMessage(err error, maxLen int) string {
	switch {
	case errors.Is(err, clip.ErrTooLong):
		return fmt.Sprintf("cannot make a clip longer than %ds", maxLen)
	case errors.Is(err, clip.ErrQueueFull):
		return "the render queue is full right now, try again in a bit"
	default:
		return "something went wrong queueing the clip, please report to developers"
	}
}
