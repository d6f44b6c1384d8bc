package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Notifier posts reminder texts to a channel.
type Notifier struct {
	session *discordgo.Session
}

func NewNotifier(session *discordgo.Session) *Notifier {
	return &Notifier{session: session}
}

func (n *Notifier) Notify(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.session.ChannelMessageSend(chatID, text)
	return err
}
