package bot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// handleMessage feeds plain chat messages to the sender's open draft.
// Messages from users without a draft are ignored.
func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	log := b.log.WithFields(logrus.Fields{
		"user": m.Author.ID,
		"chat": m.ChannelID,
	})
	defer b.recoverPanic(log, nil)

	ctx, cancel := b.handlerContext()
	defer cancel()

	actor := actorFor(m.Author, m.ChannelID)
	reply, ok, err := b.wizard.Handle(ctx, actor, messageInput(m.Message))
	if !ok {
		return
	}

	_, sendErr := s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content:    b.replyText(reply, err),
		Components: wizardComponents(reply.State),
		Reference:  m.Reference(),
	})
	if sendErr != nil {
		log.WithError(sendErr).Error("failed to send wizard prompt")
	}
}
