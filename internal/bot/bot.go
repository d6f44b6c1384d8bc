// Package bot is the Discord transport of the task bot.
package bot

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"taskbot/internal/db/models"
	"taskbot/internal/wizard"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// handlerTimeout bounds the store and wizard work done for one event.
const handlerTimeout = 15 * time.Second

// Tasks is the task tracking surface the bot drives.
type Tasks interface {
	Register(ctx context.Context, externalID, name string) (*models.User, error)
	List(ctx context.Context, externalID string) ([]*models.Task, error)
	Complete(ctx context.Context, taskID uuid.UUID, actingExternalID string) (*models.Completion, error)
}

// Wizard owns the task creation dialogues.
type Wizard interface {
	Begin(actor wizard.Actor) wizard.Reply
	Handle(ctx context.Context, actor wizard.Actor, in wizard.Input) (wizard.Reply, bool, error)
	Cancel(actor wizard.Actor) (wizard.Reply, bool)
}

type Bot struct {
	session  *discordgo.Session
	tasks    Tasks
	wizard   Wizard
	clientID string
	log      *logrus.Entry

	open        func() error
	onConnected []func(context.Context)

	ctx        context.Context
	isShutdown bool
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// NewSession creates the Discord session with the intents the bot needs.
// Reading wizard answers requires the message content intent.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return session, nil
}

// New wires the bot. An empty clientID is resolved from the session once
// it is open.
func New(session *discordgo.Session, tasks Tasks, wiz Wizard, clientID string, log *logrus.Entry) *Bot {
	return &Bot{
		session:  session,
		tasks:    tasks,
		wizard:   wiz,
		clientID: clientID,
		log:      log,
		open:     session.Open,
		ctx:      context.Background(),
	}
}

// OnConnected registers fn to run once the gateway session is open, before
// commands are registered. Call it before Start.
func (b *Bot) OnConnected(fn func(ctx context.Context)) {
	b.onConnected = append(b.onConnected, fn)
}

// Start connects, registers commands and serves until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	b.log.Info("Starting TaskBot...")
	b.ctx = ctx

	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.track(func() {
			switch i.Type {
			case discordgo.InteractionApplicationCommand:
				b.handleCommand(s, i)
			case discordgo.InteractionMessageComponent:
				b.handleComponent(s, i)
			}
		})
	})
	b.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.track(func() { b.handleMessage(s, m) })
	})

	if err := b.openSession(ctx); err != nil {
		return err
	}

	if b.clientID == "" && b.session.State != nil && b.session.State.User != nil {
		b.clientID = b.session.State.User.ID
	}
	if err := b.registerCommands(ctx); err != nil {
		b.log.WithError(err).Error("command registration failed")
	}

	b.log.Info("Bot is now running")

	<-ctx.Done()
	return b.Shutdown()
}

// openSession connects and then runs the OnConnected hooks.
func (b *Bot) openSession(ctx context.Context) error {
	if err := b.connect(ctx); err != nil {
		return err
	}
	for _, fn := range b.onConnected {
		fn(ctx)
	}
	return nil
}

// connect keeps trying to open the gateway session until it succeeds or
// ctx is done.
func (b *Bot) connect(ctx context.Context) error {
	for {
		err := b.open()
		if err == nil {
			b.log.WithField("session", b.session.State.SessionID).Info("Session opened successfully")
			return nil
		}
		b.log.WithError(err).Warn("Error opening Discord session, retrying in 5 seconds")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (b *Bot) registerCommands(ctx context.Context) error {
	const maxRetries = 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		registered, err := b.session.ApplicationCommandBulkOverwrite(b.clientID, "", commands)
		if err == nil {
			b.log.WithField("count", len(registered)).Info("Registered commands")
			return nil
		}
		lastErr = err
		b.log.WithError(err).Warnf("Attempt %d to register commands failed", i+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed to register commands after %d attempts: %w", maxRetries, lastErr)
}

// Shutdown stops accepting events, waits for running handlers and closes
// the session.
func (b *Bot) Shutdown() error {
	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		return nil
	}
	b.isShutdown = true
	b.mu.Unlock()

	b.log.Info("Waiting for active handlers to complete...")
	b.wg.Wait()

	if err := b.session.Close(); err != nil {
		return fmt.Errorf("error closing Discord session: %w", err)
	}
	b.log.Info("Discord session closed")
	return nil
}

// track runs fn unless the bot is shutting down, so Shutdown can wait for it.
func (b *Bot) track(fn func()) {
	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	fn()
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.WithFields(logrus.Fields{
		"user":   r.User.Username,
		"guilds": len(r.Guilds),
	}).Info("Bot is ready")
}

// handlerContext derives the context for one event.
func (b *Bot) handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(b.ctx), handlerTimeout)
}

// recoverPanic logs a handler panic with its stack trace.
func (b *Bot) recoverPanic(log *logrus.Entry, onPanic func()) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		log.WithField("panic", r).Errorf("Panic in handler:\n%s", buf[:n])
		if onPanic != nil {
			onPanic()
		}
	}
}
