package bot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"opclip/internal/clip"
	"opclip/internal/route"
)

// Embed colors for channel status messages.
const (
	colorWorking = 0x3498db // blue
	colorDone    = 0x2ecc71 // green
	colorFailed  = 0xe74c3c // red
)

// interactionReporter drives a /clip interaction: progress goes into
// the ephemeral deferred response, the finished clip is posted to the
// channel crediting the requester.
type interactionReporter struct {
	bot  *Bot
	s    *discordgo.Session
	i    *discordgo.InteractionCreate
	clip route.Clip
	user *discordgo.User
}

func newInteractionReporter(b *Bot, s *discordgo.Session, i *discordgo.InteractionCreate, c route.Clip) *interactionReporter {
	return &interactionReporter{bot: b, s: s, i: i, clip: c, user: interactionUser(i)}
}

func (r *interactionReporter) Queued(ahead int) {
	r.bot.editResponse(r.s, r.i, fmt.Sprintf("queued request, %d in line ahead", ahead))
}

func (r *interactionReporter) Rendering() {
	r.bot.editResponse(r.s, r.i, "clipping "+r.clip.Markdown())
}

func (r *interactionReporter) Succeeded(path string, size int64) {
	content := fmt.Sprintf("<@%s> shared a clip: %s", r.user.ID, r.clip.Markdown())
	if err := sendFileMessage(r.s, r.i.ChannelID, content, path); err != nil {
		r.bot.logger.Error("failed to post clip", zap.Error(err))
		r.bot.editResponse(r.s, r.i, "rendered the clip but failed to upload it, please try again")
		return
	}
	r.bot.editResponse(r.s, r.i, "posted "+r.clip.Markdown())
}

func (r *interactionReporter) Failed(err error) {
	r.bot.editResponse(r.s, r.i, fmt.Sprintf("clip of %s failed:\n\n```\n%s\n```", r.clip.Markdown(), err))
}

// bookmarkReporter delivers each bookmark clip as an ephemeral
// followup so a long route doesn't flood the channel.
type bookmarkReporter struct {
	bot      *Bot
	s        *discordgo.Session
	i        *discordgo.InteractionCreate
	clip     route.Clip
	bookmark string
	user     *discordgo.User
}

func newBookmarkReporter(b *Bot, s *discordgo.Session, i *discordgo.InteractionCreate, req clip.Request) *bookmarkReporter {
	return &bookmarkReporter{
		bot:      b,
		s:        s,
		i:        i,
		clip:     req.Clip,
		bookmark: req.BookmarkLabel(),
		user:     interactionUser(i),
	}
}

func (r *bookmarkReporter) Queued(int) {}
func (r *bookmarkReporter) Rendering() {}

func (r *bookmarkReporter) Succeeded(path string, size int64) {
	content := fmt.Sprintf("<@%s> shared a clip: %s, bookmarked at %s", r.user.ID, r.clip.Markdown(), r.bookmark)
	f, err := os.Open(path)
	if err != nil {
		r.bot.logger.Error("failed to open rendered clip", zap.Error(err))
		return
	}
	defer f.Close()

	_, err = r.s.FollowupMessageCreate(r.i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
		Files: []*discordgo.File{{
			Name:        filepath.Base(path),
			ContentType: "video/mp4",
			Reader:      f,
		}},
	})
	if err != nil {
		r.bot.logger.Error("failed to send bookmark clip", zap.Error(err))
	}
}

func (r *bookmarkReporter) Failed(err error) {
	_, ferr := r.s.FollowupMessageCreate(r.i.Interaction, true, &discordgo.WebhookParams{
		Content: fmt.Sprintf("bookmark clip at %s of %s failed:\n\n```\n%s\n```", r.bookmark, r.clip.Markdown(), err),
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if ferr != nil {
		r.bot.logger.Error("failed to send bookmark failure", zap.Error(ferr))
	}
}

// channelReporter drives a clip picked out of a plain message: a
// status embed in the channel, updated as the render progresses.
type channelReporter struct {
	bot       *Bot
	s         *discordgo.Session
	channelID string
	author    *discordgo.User
	clip      route.Clip
	statusID  string
}

func newChannelReporter(b *Bot, s *discordgo.Session, channelID string, author *discordgo.User, c route.Clip) *channelReporter {
	return &channelReporter{bot: b, s: s, channelID: channelID, author: author, clip: c}
}

func (r *channelReporter) embed(status string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Route", Value: r.clip.Markdown()},
			{Name: "Status", Value: status},
		},
	}
}

func (r *channelReporter) setStatus(status string, color int) {
	if r.statusID == "" {
		msg, err := r.s.ChannelMessageSendComplex(r.channelID, &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{r.embed(status, color)},
		})
		if err != nil {
			r.bot.logger.Warn("failed to send status embed", zap.Error(err))
			return
		}
		r.statusID = msg.ID
		return
	}

	edit := discordgo.NewMessageEdit(r.channelID, r.statusID)
	edit.SetEmbeds([]*discordgo.MessageEmbed{r.embed(status, color)})
	if _, err := r.s.ChannelMessageEditComplex(edit); err != nil {
		r.bot.logger.Warn("failed to edit status embed", zap.Error(err))
	}
}

func (r *channelReporter) Queued(ahead int) {
	r.setStatus(fmt.Sprintf("queued, %d in line ahead", ahead), colorWorking)
}

func (r *channelReporter) Rendering() {
	r.setStatus("rendering (may take a few minutes)", colorWorking)
}

func (r *channelReporter) Succeeded(path string, size int64) {
	content := fmt.Sprintf("<@%s> shared a clip: %s", r.author.ID, r.clip.Markdown())
	if err := sendFileMessage(r.s, r.channelID, content, path); err != nil {
		r.bot.logger.Error("failed to post clip", zap.Error(err))
		r.setStatus("rendered but upload failed", colorFailed)
		return
	}
	r.setStatus("finished", colorDone)
}

func (r *channelReporter) Failed(err error) {
	r.setStatus(fmt.Sprintf("failed:\n```\n%s\n```", err), colorFailed)
}

func sendFileMessage(s *discordgo.Session, channelID, content, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening rendered clip: %w", err)
	}
	defer f.Close()

	_, err = s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Files: []*discordgo.File{{
			Name:        filepath.Base(path),
			ContentType: "video/mp4",
			Reader:      f,
		}},
	})
	return err
}
