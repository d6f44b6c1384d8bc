package bot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"taskbot/internal/db/models"
	"taskbot/internal/wizard"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

func buttonIDs(components []discordgo.MessageComponent) []string {
	var ids []string
	for _, c := range components {
		row, ok := c.(discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if button, ok := inner.(discordgo.Button); ok {
				ids = append(ids, button.CustomID)
			}
		}
	}
	return ids
}

func TestParseCustomID(t *testing.T) {
	taskID := uuid.New()
	tests := []struct {
		id     string
		action componentAction
		arg    string
	}{
		{"wizard:skip:photo", actionSkip, "photo"},
		{"wizard:skip:due_date", actionSkip, "due_date"},
		{"wizard:skip", actionUnknown, ""},
		{"wizard:skip:bogus", actionUnknown, ""},
		{"wizard:cancel", actionCancel, ""},
		{"wizard:importance:4", actionImportance, "4"},
		{"task:done:" + taskID.String(), actionDone, taskID.String()},
		{"task:done:not-a-uuid", actionUnknown, ""},
		{"something:else", actionUnknown, ""},
	}

	for _, tt := range tests {
		action, arg := parseCustomID(tt.id)
		if action != tt.action || arg != tt.arg {
			t.Errorf("parseCustomID(%q) = (%d, %q), want (%d, %q)", tt.id, action, arg, tt.action, tt.arg)
		}
	}
}

func TestRenderReply(t *testing.T) {
	if got := renderReply(wizard.Reply{State: wizard.StateImportance}); got != "Rate the importance from 1 to 5" {
		t.Errorf("Unexpected prompt %q", got)
	}

	rejected := wizard.Reply{
		State: wizard.StateStartDate,
		Err:   &wizard.ValidationError{State: wizard.StateStartDate, Err: wizard.ErrInvalidDate},
	}
	got := renderReply(rejected)
	if !strings.HasPrefix(got, "Could not recognise the date") || !strings.HasSuffix(got, prompts[wizard.StateStartDate]) {
		t.Errorf("Expected rejection followed by the prompt, got %q", got)
	}

	if got := renderReply(wizard.Reply{State: wizard.StateDone}); got != "Task saved" {
		t.Errorf("Unexpected done text %q", got)
	}
}

func TestWizardComponents(t *testing.T) {
	tests := []struct {
		state wizard.State
		want  []string
	}{
		{wizard.StateTitle, []string{idCancel}},
		{wizard.StateDescription, []string{"wizard:skip:description", idCancel}},
		{wizard.StateImportance, []string{
			"wizard:importance:1", "wizard:importance:2", "wizard:importance:3",
			"wizard:importance:4", "wizard:importance:5", idCancel,
		}},
		{wizard.StateStartDate, []string{"wizard:skip:start_date", idCancel}},
		{wizard.StatePhoto, []string{"wizard:skip:photo", idCancel}},
		{wizard.StateDone, nil},
		{wizard.StateCancelled, nil},
	}

	for _, tt := range tests {
		got := buttonIDs(wizardComponents(tt.state))
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("%s: got buttons %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestMessageInput(t *testing.T) {
	text := messageInput(&discordgo.Message{Content: "Buy milk"})
	if text.Kind != wizard.InputText || text.Text != "Buy milk" {
		t.Errorf("Expected text input, got %+v", text)
	}

	withImages := messageInput(&discordgo.Message{
		Content: "here",
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn/doc.pdf", ContentType: "application/pdf", Size: 9000},
			{URL: "https://cdn/small.png", ContentType: "image/png", Width: 100, Height: 100, Size: 10},
			{URL: "https://cdn/big.jpg", Width: 1920, Height: 1080, Size: 500},
		},
	})
	if withImages.Kind != wizard.InputPhoto || len(withImages.Photos) != 2 {
		t.Fatalf("Expected two photo variants, got %+v", withImages)
	}
	best, ok := wizard.Largest(withImages.Photos)
	if !ok || best.Ref != "https://cdn/big.jpg" {
		t.Errorf("Expected the largest image, got %+v", best)
	}

	onlyFile := messageInput(&discordgo.Message{
		Attachments: []*discordgo.MessageAttachment{{URL: "https://cdn/a.txt", ContentType: "text/plain"}},
	})
	if onlyFile.Kind != wizard.InputText {
		t.Errorf("Expected non-image attachments to be ignored, got %+v", onlyFile)
	}
}

func TestInteractionUser(t *testing.T) {
	guild := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Member: &discordgo.Member{User: &discordgo.User{ID: "g"}},
	}}
	if u := interactionUser(guild); u == nil || u.ID != "g" {
		t.Errorf("Expected guild member user, got %+v", u)
	}

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		User: &discordgo.User{ID: "d"},
	}}
	if u := interactionUser(dm); u == nil || u.ID != "d" {
		t.Errorf("Expected DM user, got %+v", u)
	}
}

func TestFormatTaskList(t *testing.T) {
	content, components := formatTaskList(nil)
	if content != "No open tasks" || components != nil {
		t.Errorf("Unexpected empty list rendering: %q %v", content, components)
	}

	due := time.Date(2024, 3, 5, 18, 30, 0, 0, time.UTC)
	tasks := []*models.Task{
		{ID: uuid.New(), Title: "Write report", Importance: 4, DueAt: &due},
		{ID: uuid.New(), Title: "Call mom", Importance: 2},
	}
	content, components = formatTaskList(tasks)
	if !strings.Contains(content, "Write report") || !strings.Contains(content, "2024-03-05 18:30") {
		t.Errorf("Expected title and deadline in %q", content)
	}
	ids := buttonIDs(components)
	if len(ids) != 2 || ids[0] != idDonePrefix+tasks[0].ID.String() {
		t.Errorf("Expected a Done button per task, got %v", ids)
	}
}

func TestFormatTaskListButtonLimit(t *testing.T) {
	var tasks []*models.Task
	for n := 0; n < 30; n++ {
		tasks = append(tasks, &models.Task{ID: uuid.New(), Title: fmt.Sprintf("task %d", n), Importance: 1})
	}

	content, components := formatTaskList(tasks)
	if len(components) != 5 {
		t.Errorf("Expected 5 button rows, got %d", len(components))
	}
	if got := len(buttonIDs(components)); got != maxDoneButtons {
		t.Errorf("Expected %d buttons, got %d", maxDoneButtons, got)
	}
	if !strings.Contains(content, "task 29") {
		t.Error("Expected every task in the table")
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("short", 10); got != "short" {
		t.Errorf("Expected unchanged string, got %q", got)
	}
	if got := truncateString("a very long task title", 10); got != "a very ..." {
		t.Errorf("Unexpected truncation %q", got)
	}
	if got := truncateString("привет мир!", 8); got != "приве..." {
		t.Errorf("Expected rune-aware truncation, got %q", got)
	}
}

func TestRenderReplyStaleButton(t *testing.T) {
	reply := wizard.Reply{
		State: wizard.StateTitle,
		Err:   &wizard.ValidationError{State: wizard.StateTitle, Err: wizard.ErrStalePrompt},
	}
	got := renderReply(reply)
	if !strings.HasPrefix(got, "That button belongs to an earlier step.") || !strings.HasSuffix(got, prompts[wizard.StateTitle]) {
		t.Errorf("Expected stale button notice followed by the title prompt, got %q", got)
	}
}
