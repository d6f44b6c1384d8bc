package wizard

import (
	"errors"
	"testing"
	"time"
)

// advanceTo drives a fresh conversation to the given state with valid input.
func advanceTo(t *testing.T, target State) *Conversation {
	t.Helper()

	steps := []Input{
		Text("Write report"),
		Text("Quarterly numbers"),
		Text("3"),
		Skip(),
		Skip(),
	}

	c := NewConversation()
	for _, in := range steps {
		if c.State() == target {
			return c
		}
		if r := c.Advance(in); r.Err != nil {
			t.Fatalf("Unexpected error advancing from %s: %v", c.State(), r.Err)
		}
	}
	if c.State() != target {
		t.Fatalf("Could not reach state %s, stopped at %s", target, c.State())
	}
	return c
}

func TestConversationHappyPath(t *testing.T) {
	c := NewConversation()

	steps := []struct {
		in   Input
		want State
	}{
		{Text("Write report"), StateDescription},
		{Text("Quarterly numbers"), StateImportance},
		{Text("4"), StateStartDate},
		{Text("2024-01-01 10:00"), StateDueDate},
		{Text("2024-01-02 18:30"), StatePhoto},
		{Photos(Photo{Ref: "small", Width: 90, Height: 90}, Photo{Ref: "large", Width: 1280, Height: 960}), StateDone},
	}

	for _, step := range steps {
		r := c.Advance(step.in)
		if r.Err != nil {
			t.Fatalf("Unexpected error: %v", r.Err)
		}
		if r.State != step.want {
			t.Fatalf("Expected state %s, got %s", step.want, r.State)
		}
	}

	d := c.Draft()
	if d.Title != "Write report" {
		t.Errorf("Expected title 'Write report', got '%s'", d.Title)
	}
	if d.Description != "Quarterly numbers" {
		t.Errorf("Expected description 'Quarterly numbers', got '%s'", d.Description)
	}
	if d.Importance != 4 {
		t.Errorf("Expected importance 4, got %d", d.Importance)
	}
	wantStart := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if d.StartAt == nil || !d.StartAt.Equal(wantStart) {
		t.Errorf("Expected start %v, got %v", wantStart, d.StartAt)
	}
	wantDue := time.Date(2024, 1, 2, 18, 30, 0, 0, time.UTC)
	if d.DueAt == nil || !d.DueAt.Equal(wantDue) {
		t.Errorf("Expected due %v, got %v", wantDue, d.DueAt)
	}
	if d.PhotoRef == nil || *d.PhotoRef != "large" {
		t.Errorf("Expected photo ref 'large', got %v", d.PhotoRef)
	}
}

func TestConversationTitleKeptVerbatim(t *testing.T) {
	c := NewConversation()
	c.Advance(Text("  Buy milk  "))
	if got := c.Draft().Title; got != "  Buy milk  " {
		t.Errorf("Expected verbatim title, got %q", got)
	}
}

func TestConversationRejectsEmptyTitle(t *testing.T) {
	c := NewConversation()

	for _, in := range []Input{Text(""), Text("   "), Skip(), Photos(Photo{Ref: "x"})} {
		r := c.Advance(in)
		if r.Err == nil {
			t.Fatalf("Expected error for input %+v", in)
		}
		if r.State != StateTitle {
			t.Errorf("Expected to stay in title, got %s", r.State)
		}
	}
}

func TestConversationImportanceValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		advance bool
	}{
		{"non numeric", Text("very"), false},
		{"zero", Text("0"), false},
		{"six", Text("6"), false},
		{"negative", Text("-1"), false},
		{"fraction", Text("2.5"), false},
		{"skip", Skip(), false},
		{"three", Text("3"), true},
		{"padded", Text(" 5 "), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := advanceTo(t, StateImportance)
			r := c.Advance(tt.in)

			if tt.advance {
				if r.Err != nil {
					t.Fatalf("Unexpected error: %v", r.Err)
				}
				if r.State != StateStartDate {
					t.Errorf("Expected start_date, got %s", r.State)
				}
				return
			}

			if r.State != StateImportance {
				t.Errorf("Expected to stay in importance, got %s", r.State)
			}
			var verr *ValidationError
			if !errors.As(r.Err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", r.Err)
			}
			if verr.State != StateImportance {
				t.Errorf("Expected error for importance, got %s", verr.State)
			}
		})
	}
}

func TestConversationSkips(t *testing.T) {
	tests := []struct {
		from  State
		want  State
		check func(t *testing.T, d Draft)
	}{
		{StateDescription, StateImportance, func(t *testing.T, d Draft) {
			if d.Description != "" {
				t.Errorf("Expected empty description, got %q", d.Description)
			}
		}},
		{StateStartDate, StateDueDate, func(t *testing.T, d Draft) {
			if d.StartAt != nil {
				t.Errorf("Expected no start date, got %v", d.StartAt)
			}
		}},
		{StateDueDate, StatePhoto, func(t *testing.T, d Draft) {
			if d.DueAt != nil {
				t.Errorf("Expected no due date, got %v", d.DueAt)
			}
		}},
		{StatePhoto, StateDone, func(t *testing.T, d Draft) {
			if d.PhotoRef != nil {
				t.Errorf("Expected no photo, got %v", *d.PhotoRef)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			c := advanceTo(t, tt.from)
			r := c.Advance(Skip())
			if r.Err != nil {
				t.Fatalf("Unexpected error: %v", r.Err)
			}
			if r.State != tt.want {
				t.Fatalf("Expected %s, got %s", tt.want, r.State)
			}
			tt.check(t, c.Draft())
		})
	}
}

func TestConversationInvalidDateStays(t *testing.T) {
	for _, state := range []State{StateStartDate, StateDueDate} {
		c := advanceTo(t, state)

		for i := 0; i < 3; i++ {
			r := c.Advance(Text("notadate"))
			if !errors.Is(r.Err, ErrInvalidDate) {
				t.Fatalf("Expected ErrInvalidDate, got %v", r.Err)
			}
			if r.State != state {
				t.Fatalf("Expected to stay in %s, got %s", state, r.State)
			}
		}
	}
}

func TestConversationPhotoStepRejectsText(t *testing.T) {
	c := advanceTo(t, StatePhoto)

	r := c.Advance(Text("here is my photo"))
	if !errors.Is(r.Err, ErrPhotoExpected) {
		t.Fatalf("Expected ErrPhotoExpected, got %v", r.Err)
	}
	if r = c.Advance(Photos()); r.Err == nil {
		t.Fatal("Expected error for an attachment without variants")
	}
	if c.State() != StatePhoto {
		t.Errorf("Expected photo state, got %s", c.State())
	}
}

func TestConversationCancel(t *testing.T) {
	for _, state := range []State{StateTitle, StateDescription, StateImportance, StateStartDate, StateDueDate, StatePhoto} {
		c := advanceTo(t, state)
		r := c.Cancel()
		if r.State != StateCancelled {
			t.Errorf("Expected cancelled from %s, got %s", state, r.State)
		}
		if c.Draft() != (Draft{}) {
			t.Errorf("Expected draft to be discarded after cancel from %s", state)
		}
		if r := c.Advance(Text("more")); !errors.Is(r.Err, ErrFinished) {
			t.Errorf("Expected ErrFinished after cancel, got %v", r.Err)
		}
	}
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-01 10:00", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-15T08:30:00Z", time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC)},
		{"2024-03-15T08:30:00+02:00", time.Date(2024, 3, 15, 6, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := ParseDateTime(tt.in)
		if err != nil {
			t.Errorf("ParseDateTime(%q) failed: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseDateTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	naive, _ := ParseDateTime("2024-01-01 10:00")
	if naive.Location() != time.UTC {
		t.Errorf("Expected naive input to be anchored in UTC, got %s", naive.Location())
	}

	for _, bad := range []string{"notadate", "", "   "} {
		if _, err := ParseDateTime(bad); !errors.Is(err, ErrInvalidDate) {
			t.Errorf("ParseDateTime(%q) expected ErrInvalidDate, got %v", bad, err)
		}
	}
}

func TestLargest(t *testing.T) {
	best, ok := Largest([]Photo{
		{Ref: "thumb", Width: 90, Height: 60, Size: 2000},
		{Ref: "full", Width: 1920, Height: 1080, Size: 300000},
		{Ref: "medium", Width: 800, Height: 600, Size: 90000},
	})
	if !ok || best.Ref != "full" {
		t.Errorf("Expected 'full', got %+v", best)
	}

	// Unknown dimensions fall back to file size.
	best, _ = Largest([]Photo{{Ref: "a", Size: 10}, {Ref: "b", Size: 20}})
	if best.Ref != "b" {
		t.Errorf("Expected 'b', got %s", best.Ref)
	}

	if _, ok := Largest(nil); ok {
		t.Error("Expected no pick for empty variants")
	}
}

func TestConversationRejectsStaleButton(t *testing.T) {
	// A fresh draft in the title step receives an importance button
	// rendered by an earlier conversation.
	c := NewConversation()
	r := c.Advance(Text("3").At(StateImportance))
	if !errors.Is(r.Err, ErrStalePrompt) {
		t.Fatalf("Expected ErrStalePrompt, got %v", r.Err)
	}
	if r.State != StateTitle || c.Draft().Title != "" {
		t.Errorf("Expected the title step untouched, got %s with title %q", r.State, c.Draft().Title)
	}

	// A skip pressed on the description prompt after the draft moved on
	// must not skip the start date.
	c = advanceTo(t, StateStartDate)
	r = c.Advance(Skip().At(StateDescription))
	if !errors.Is(r.Err, ErrStalePrompt) || r.State != StateStartDate {
		t.Errorf("Expected stale rejection in start_date, got %s / %v", r.State, r.Err)
	}
	if c.Draft().Description != "Quarterly numbers" {
		t.Errorf("Expected description kept, got %q", c.Draft().Description)
	}

	r = c.Advance(Skip().At(StateStartDate))
	if r.Err != nil || r.State != StateDueDate {
		t.Errorf("Expected a matching skip to advance, got %s / %v", r.State, r.Err)
	}
}

func TestParseState(t *testing.T) {
	for s := StateTitle; s <= StateCancelled; s++ {
		got, ok := ParseState(s.String())
		if !ok || got != s {
			t.Errorf("ParseState(%q) = %s, %v", s.String(), got, ok)
		}
	}
	if _, ok := ParseState("state(42)"); ok {
		t.Error("Expected unknown name to fail")
	}
}
