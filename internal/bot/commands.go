package bot

import (
	"errors"

	"taskbot/internal/metrics"
	"taskbot/internal/service"
	"taskbot/internal/wizard"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "start",
		Description: "Register and show your level and points",
	},
	{
		Name:        "add",
		Description: "Create a new task step by step",
	},
	{
		Name:        "skip",
		Description: "Skip the current optional step",
	},
	{
		Name:        "cancel",
		Description: "Abandon the task being created",
	},
	{
		Name:        "tasks",
		Description: "List your open tasks",
	},
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name
	user := interactionUser(i)
	if user == nil {
		b.log.WithField("command", name).Warn("interaction without user")
		return
	}

	log := b.log.WithFields(logrus.Fields{
		"command": name,
		"user":    user.ID,
		"chat":    i.ChannelID,
	})
	defer b.recoverPanic(log, func() { respondWithError(s, i, "An internal error occurred") })

	metrics.Commands.WithLabelValues(name).Inc()
	log.Debug("command received")

	actor := actorFor(user, i.ChannelID)

	var err error
	switch name {
	case "start":
		err = b.handleStart(s, i, actor)
	case "add":
		reply := b.wizard.Begin(actor)
		err = respond(s, i, renderReply(reply), wizardComponents(reply.State), false)
	case "skip":
		err = b.handleSkip(s, i, actor)
	case "cancel":
		err = b.handleCancel(s, i, actor)
	case "tasks":
		err = b.handleTasks(s, i, actor)
	default:
		log.Warn("Unknown command")
		err = respondWithError(s, i, "Unknown command")
	}
	if err != nil {
		log.WithError(err).Error("command failed")
	}
}

func (b *Bot) handleStart(s *discordgo.Session, i *discordgo.InteractionCreate, actor wizard.Actor) error {
	ctx, cancel := b.handlerContext()
	defer cancel()

	user, err := b.tasks.Register(ctx, actor.UserID, actor.UserName)
	if err != nil {
		respondWithError(s, i, "Could not load your profile, try again later")
		return err
	}
	return respond(s, i, formatGreeting(user), nil, false)
}

func (b *Bot) handleSkip(s *discordgo.Session, i *discordgo.InteractionCreate, actor wizard.Actor) error {
	ctx, cancel := b.handlerContext()
	defer cancel()

	reply, ok, err := b.wizard.Handle(ctx, actor, wizard.Skip())
	if !ok {
		return respond(s, i, "Nothing to skip. Use /add to create a task.", nil, true)
	}
	return respond(s, i, b.replyText(reply, err), wizardComponents(reply.State), false)
}

func (b *Bot) handleCancel(s *discordgo.Session, i *discordgo.InteractionCreate, actor wizard.Actor) error {
	reply, ok := b.wizard.Cancel(actor)
	if !ok {
		return respond(s, i, "Nothing to cancel.", nil, true)
	}
	return respond(s, i, renderReply(reply), nil, false)
}

func (b *Bot) handleTasks(s *discordgo.Session, i *discordgo.InteractionCreate, actor wizard.Actor) error {
	ctx, cancel := b.handlerContext()
	defer cancel()

	tasks, err := b.tasks.List(ctx, actor.UserID)
	if err != nil {
		respondWithError(s, i, "Could not load your tasks, try again later")
		return err
	}
	content, components := formatTaskList(tasks)
	return respond(s, i, content, components, true)
}

// handleComponent serves the wizard buttons and the per-task Done buttons.
func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID
	user := interactionUser(i)
	if user == nil {
		return
	}

	log := b.log.WithFields(logrus.Fields{
		"component": customID,
		"user":      user.ID,
		"chat":      i.ChannelID,
	})
	defer b.recoverPanic(log, func() { respondWithError(s, i, "An internal error occurred") })

	actor := actorFor(user, i.ChannelID)
	action, arg := parseCustomID(customID)

	var err error
	switch action {
	case actionSkip:
		state, _ := wizard.ParseState(arg)
		err = b.advanceFromButton(s, i, actor, wizard.Skip().At(state))
	case actionImportance:
		err = b.advanceFromButton(s, i, actor, wizard.Text(arg).At(wizard.StateImportance))
	case actionCancel:
		reply, ok := b.wizard.Cancel(actor)
		if !ok {
			err = respond(s, i, "Nothing to cancel.", nil, true)
			break
		}
		err = respondUpdate(s, i, renderReply(reply), wizardComponents(reply.State))
	case actionDone:
		err = b.completeTask(s, i, actor, uuid.MustParse(arg))
	default:
		log.Warn("Unknown component")
		err = respondWithError(s, i, "Unknown action")
	}
	if err != nil {
		log.WithError(err).Error("component failed")
	}
}

// advanceFromButton feeds a button press to the wizard and rewrites the
// prompt message in place.
func (b *Bot) advanceFromButton(s *discordgo.Session, i *discordgo.InteractionCreate, actor wizard.Actor, in wizard.Input) error {
	ctx, cancel := b.handlerContext()
	defer cancel()

	reply, ok, err := b.wizard.Handle(ctx, actor, in)
	if !ok {
		return respond(s, i, "This task draft is no longer open. Use /add to start again.", nil, true)
	}
	return respondUpdate(s, i, b.replyText(reply, err), wizardComponents(reply.State))
}

func (b *Bot) completeTask(s *discordgo.Session, i *discordgo.InteractionCreate, actor wizard.Actor, taskID uuid.UUID) error {
	ctx, cancel := b.handlerContext()
	defer cancel()

	c, err := b.tasks.Complete(ctx, taskID, actor.UserID)
	if errors.Is(err, service.ErrNotFound) {
		return respond(s, i, "Task not found", nil, true)
	}
	if err != nil {
		respondWithError(s, i, "Could not complete the task, try again later")
		return err
	}
	return respond(s, i, formatCompletion(c), nil, true)
}

// replyText renders a wizard reply, noting a failed save. The draft stays
// at the photo step in that case so the user can retry.
func (b *Bot) replyText(reply wizard.Reply, err error) string {
	if err != nil {
		b.log.WithError(err).Error("failed to save task")
		return "Could not save the task, try again.\n" + renderReply(reply)
	}
	return renderReply(reply)
}
