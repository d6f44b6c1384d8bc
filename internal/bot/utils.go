package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/db/models"
	"taskbot/internal/gamification"
	"taskbot/internal/wizard"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

const (
	idSkipPrefix       = "wizard:skip:"
	idCancel           = "wizard:cancel"
	idImportancePrefix = "wizard:importance:"
	idDonePrefix       = "task:done:"
)

// Discord allows five rows of five buttons per message.
const maxDoneButtons = 25

const dateLayout = "2006-01-02 15:04"

var prompts = map[wizard.State]string{
	wizard.StateTitle:       "Enter the task title",
	wizard.StateDescription: "Add a description, or skip",
	wizard.StateImportance:  "Rate the importance from 1 to 5",
	wizard.StateStartDate:   "Enter the start date (YYYY-MM-DD HH:MM), or skip",
	wizard.StateDueDate:     "Enter the deadline (YYYY-MM-DD HH:MM), or skip",
	wizard.StatePhoto:       "Send a photo, or skip",
	wizard.StateDone:        "Task saved",
	wizard.StateCancelled:   "Cancelled",
}

// renderReply turns a wizard reply into the message shown to the user.
func renderReply(reply wizard.Reply) string {
	prompt := prompts[reply.State]
	if reply.Err == nil {
		return prompt
	}
	return rejection(reply.Err) + "\n" + prompt
}

func rejection(err error) string {
	switch {
	case errors.Is(err, wizard.ErrEmptyTitle):
		return "The title cannot be empty."
	case errors.Is(err, wizard.ErrInvalidImportance):
		return "Importance must be a number from 1 to 5."
	case errors.Is(err, wizard.ErrInvalidDate):
		return "Could not recognise the date, try again."
	case errors.Is(err, wizard.ErrNotSkippable):
		return "This step cannot be skipped."
	case errors.Is(err, wizard.ErrPhotoExpected):
		return "That is not a photo."
	case errors.Is(err, wizard.ErrTextExpected):
		return "Please answer with text."
	case errors.Is(err, wizard.ErrStalePrompt):
		return "That button belongs to an earlier step."
	default:
		return "That did not work, try again."
	}
}

func skippable(state wizard.State) bool {
	switch state {
	case wizard.StateDescription, wizard.StateStartDate, wizard.StateDueDate, wizard.StatePhoto:
		return true
	}
	return false
}

// wizardComponents returns the buttons offered while waiting in state.
func wizardComponents(state wizard.State) []discordgo.MessageComponent {
	if state.Terminal() {
		return []discordgo.MessageComponent{}
	}

	var rows []discordgo.MessageComponent
	if state == wizard.StateImportance {
		var buttons []discordgo.MessageComponent
		for n := wizard.MinImportance; n <= wizard.MaxImportance; n++ {
			buttons = append(buttons, discordgo.Button{
				Label:    fmt.Sprint(n),
				Style:    discordgo.PrimaryButton,
				CustomID: fmt.Sprintf("%s%d", idImportancePrefix, n),
			})
		}
		rows = append(rows, discordgo.ActionsRow{Components: buttons})
	}

	var controls []discordgo.MessageComponent
	if skippable(state) {
		controls = append(controls, discordgo.Button{
			Label:    "Skip",
			Style:    discordgo.SecondaryButton,
			CustomID: idSkipPrefix + state.String(),
		})
	}
	controls = append(controls, discordgo.Button{
		Label:    "Cancel",
		Style:    discordgo.DangerButton,
		CustomID: idCancel,
	})
	return append(rows, discordgo.ActionsRow{Components: controls})
}

type componentAction int

const (
	actionUnknown componentAction = iota
	actionSkip
	actionCancel
	actionImportance
	actionDone
)

// parseCustomID decodes a button id. arg carries the step a skip answers,
// the importance value or the task id.
func parseCustomID(id string) (componentAction, string) {
	switch {
	case strings.HasPrefix(id, idSkipPrefix):
		if _, ok := wizard.ParseState(strings.TrimPrefix(id, idSkipPrefix)); !ok {
			return actionUnknown, ""
		}
		return actionSkip, strings.TrimPrefix(id, idSkipPrefix)
	case id == idCancel:
		return actionCancel, ""
	case strings.HasPrefix(id, idImportancePrefix):
		return actionImportance, strings.TrimPrefix(id, idImportancePrefix)
	case strings.HasPrefix(id, idDonePrefix):
		if _, err := uuid.Parse(strings.TrimPrefix(id, idDonePrefix)); err != nil {
			return actionUnknown, ""
		}
		return actionDone, strings.TrimPrefix(id, idDonePrefix)
	}
	return actionUnknown, ""
}

func isImage(a *discordgo.MessageAttachment) bool {
	return strings.HasPrefix(a.ContentType, "image/") || (a.Width > 0 && a.Height > 0)
}

// photosFromAttachments lists the image attachments as photo variants.
func photosFromAttachments(attachments []*discordgo.MessageAttachment) []wizard.Photo {
	var photos []wizard.Photo
	for _, a := range attachments {
		if a == nil || !isImage(a) {
			continue
		}
		photos = append(photos, wizard.Photo{
			Ref:    a.URL,
			Width:  a.Width,
			Height: a.Height,
			Size:   a.Size,
		})
	}
	return photos
}

// messageInput maps a chat message to wizard input. Image attachments win
// over text.
func messageInput(m *discordgo.Message) wizard.Input {
	if photos := photosFromAttachments(m.Attachments); len(photos) > 0 {
		return wizard.Photos(photos...)
	}
	return wizard.Text(m.Content)
}

// interactionUser returns the user behind an interaction in a guild or DM.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func actorFor(user *discordgo.User, channelID string) wizard.Actor {
	return wizard.Actor{UserID: user.ID, UserName: user.Username, ChatID: channelID}
}

func formatGreeting(u *models.User) string {
	return fmt.Sprintf("Hello, %s! Level %d, %d points. Next level at %d points.\nUse /add to create a task and /tasks to see open ones.",
		u.Name, u.Level, u.Points, gamification.NextLevelAt(u.Points))
}

func formatCompletion(c *models.Completion) string {
	return fmt.Sprintf("Task completed! +%d points. Level %d", c.PointsAwarded, c.User.Level)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(dateLayout)
}

// formatTaskList renders the open tasks as a table and one Done button per
// task. Tasks past the button limit are listed without a button.
func formatTaskList(tasks []*models.Task) (string, []discordgo.MessageComponent) {
	if len(tasks) == 0 {
		return "No open tasks", nil
	}

	rows := make([][]string, 0, len(tasks))
	for n, t := range tasks {
		rows = append(rows, []string{
			fmt.Sprint(n + 1),
			truncateString(t.Title, 30),
			fmt.Sprint(t.Importance),
			formatDate(t.DueAt),
		})
	}
	content := formatTable([]string{"#", "TASK", "IMP", "DEADLINE"}, rows)
	if len(tasks) > maxDoneButtons {
		content += fmt.Sprintf("\nOnly the first %d tasks have a Done button.", maxDoneButtons)
	}

	var (
		components []discordgo.MessageComponent
		row        []discordgo.MessageComponent
	)
	for n, t := range tasks {
		if n == maxDoneButtons {
			break
		}
		row = append(row, discordgo.Button{
			Label:    fmt.Sprintf("Done #%d", n+1),
			Style:    discordgo.SuccessButton,
			CustomID: idDonePrefix + t.ID.String(),
		})
		if len(row) == 5 {
			components = append(components, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		components = append(components, discordgo.ActionsRow{Components: row})
	}
	return content, components
}

// truncateString cuts s to maxLen runes, marking the cut with "...".
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// formatTable creates a Discord-friendly table with fixed-width columns
func formatTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len([]rune(header))
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := len([]rune(cell)); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var result strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			result.WriteString(cell)
			if i < len(cells)-1 {
				result.WriteString(strings.Repeat(" ", widths[i]-len([]rune(cell))+2))
			}
		}
		result.WriteString("\n")
	}

	result.WriteString("```\n")
	writeRow(headers)
	for i, width := range widths {
		result.WriteString(strings.Repeat("-", width))
		if i < len(widths)-1 {
			result.WriteString("  ")
		}
	}
	result.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
	result.WriteString("```")

	return result.String()
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string, components []discordgo.MessageComponent, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{
		Content:    content,
		Components: components,
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

// respondUpdate replaces the message a button belongs to.
func respondUpdate(s *discordgo.Session, i *discordgo.InteractionCreate, content string, components []discordgo.MessageComponent) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: components,
		},
	})
}

// respondWithError sends an ephemeral error response to the user
func respondWithError(s *discordgo.Session, i *discordgo.InteractionCreate, errMsg string) error {
	return respond(s, i, "Error: "+errMsg, nil, true)
}
