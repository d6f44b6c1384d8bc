// Package wizard implements the multi-turn dialogue that collects a task.
//
// A Conversation is a plain state machine: it is fed one Input at a time and
// reports the state it is now waiting in. Persisting the finished draft is up
// to the caller; Manager does that through a Submitter.
package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

type State int

const (
	StateTitle State = iota
	StateDescription
	StateImportance
	StateStartDate
	StateDueDate
	StatePhoto
	StateDone
	StateCancelled
)

var stateNames = map[State]string{
	StateTitle:       "title",
	StateDescription: "description",
	StateImportance:  "importance",
	StateStartDate:   "start_date",
	StateDueDate:     "due_date",
	StatePhoto:       "photo",
	StateDone:        "done",
	StateCancelled:   "cancelled",
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the conversation accepts no further input.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled
}

const (
	MinImportance = 1
	MaxImportance = 5
)

// Draft holds the fields collected so far. Nil pointers mean "not given".
type Draft struct {
	Title       string
	Description string
	Importance  int
	StartAt     *time.Time
	DueAt       *time.Time
	PhotoRef    *string
}

type InputKind int

const (
	InputText InputKind = iota
	InputSkip
	InputPhoto
)

// Photo is one resolution variant of an attached image.
type Photo struct {
	Ref    string
	Width  int
	Height int
	Size   int
}

type Input struct {
	Kind   InputKind
	Text   string
	Photos []Photo

	// set by At
	expect State
	pinned bool
}

func Text(s string) Input { return Input{Kind: InputText, Text: s} }

func Skip() Input { return Input{Kind: InputSkip} }

func Photos(variants ...Photo) Input { return Input{Kind: InputPhoto, Photos: variants} }

// At ties the input to the step that prompted it. A conversation that has
// moved on rejects it with ErrStalePrompt instead of reading it as an
// answer to the current step.
func (in Input) At(s State) Input {
	in.expect = s
	in.pinned = true
	return in
}

var (
	ErrEmptyTitle        = errors.New("title must not be empty")
	ErrInvalidImportance = errors.New("importance must be a whole number from 1 to 5")
	ErrInvalidDate       = errors.New("could not parse the date")
	ErrNotSkippable      = errors.New("this step cannot be skipped")
	ErrPhotoExpected     = errors.New("a photo or skip is expected")
	ErrTextExpected      = errors.New("text is expected")
	ErrFinished          = errors.New("conversation is already finished")
	ErrStalePrompt       = errors.New("input answers an earlier step")
)

// ValidationError is returned for input the current step rejects. The
// conversation stays in State and the user should be asked again.
type ValidationError struct {
	State State
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Reply describes the conversation after an input: the state it now waits
// in and, if the input was rejected, why.
type Reply struct {
	State State
	Err   error
}

type Conversation struct {
	state State
	draft Draft
}

func NewConversation() *Conversation {
	return &Conversation{state: StateTitle}
}

func (c *Conversation) State() State { return c.state }

// Draft returns a copy of the collected fields.
func (c *Conversation) Draft() Draft { return c.draft }

// Advance feeds one input to the current step.
func (c *Conversation) Advance(in Input) Reply {
	if c.state.Terminal() {
		return Reply{State: c.state, Err: ErrFinished}
	}
	if in.pinned && in.expect != c.state {
		return c.reject(ErrStalePrompt)
	}

	switch c.state {
	case StateTitle:
		if in.Kind == InputSkip {
			return c.reject(ErrNotSkippable)
		}
		if in.Kind != InputText {
			return c.reject(ErrTextExpected)
		}
		if strings.TrimSpace(in.Text) == "" {
			return c.reject(ErrEmptyTitle)
		}
		c.draft.Title = in.Text
		c.state = StateDescription

	case StateDescription:
		switch in.Kind {
		case InputSkip:
			c.draft.Description = ""
		case InputText:
			c.draft.Description = in.Text
		default:
			return c.reject(ErrTextExpected)
		}
		c.state = StateImportance

	case StateImportance:
		if in.Kind == InputSkip {
			return c.reject(ErrNotSkippable)
		}
		if in.Kind != InputText {
			return c.reject(ErrTextExpected)
		}
		importance, err := ParseImportance(in.Text)
		if err != nil {
			return c.reject(err)
		}
		c.draft.Importance = importance
		c.state = StateStartDate

	case StateStartDate, StateDueDate:
		var at *time.Time
		switch in.Kind {
		case InputSkip:
		case InputText:
			t, err := ParseDateTime(in.Text)
			if err != nil {
				return c.reject(ErrInvalidDate)
			}
			at = &t
		default:
			return c.reject(ErrTextExpected)
		}
		if c.state == StateStartDate {
			c.draft.StartAt = at
			c.state = StateDueDate
		} else {
			c.draft.DueAt = at
			c.state = StatePhoto
		}

	case StatePhoto:
		switch in.Kind {
		case InputSkip:
			c.draft.PhotoRef = nil
		case InputPhoto:
			best, ok := Largest(in.Photos)
			if !ok {
				return c.reject(ErrPhotoExpected)
			}
			ref := best.Ref
			c.draft.PhotoRef = &ref
		default:
			return c.reject(ErrPhotoExpected)
		}
		c.state = StateDone
	}

	return Reply{State: c.state}
}

// Cancel abandons the draft.
func (c *Conversation) Cancel() Reply {
	if c.state.Terminal() {
		return Reply{State: c.state, Err: ErrFinished}
	}
	c.state = StateCancelled
	c.draft = Draft{}
	return Reply{State: c.state}
}

func (c *Conversation) reject(err error) Reply {
	return Reply{State: c.state, Err: &ValidationError{State: c.state, Err: err}}
}

// ParseImportance accepts an integer between MinImportance and MaxImportance.
func ParseImportance(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < MinImportance || n > MaxImportance {
		return 0, ErrInvalidImportance
	}
	return n, nil
}

// ParseDateTime parses a user supplied date. Input without a zone is read as UTC.
func ParseDateTime(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrInvalidDate
	}
	t, err := dateparse.ParseIn(text, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	return t, nil
}

// Largest picks the variant with the most pixels, then the largest file.
func Largest(variants []Photo) (Photo, bool) {
	var best Photo
	found := false
	for _, p := range variants {
		if p.Ref == "" {
			continue
		}
		if !found ||
			p.Width*p.Height > best.Width*best.Height ||
			(p.Width*p.Height == best.Width*best.Height && p.Size > best.Size) {
			best = p
			found = true
		}
	}
	return best, found
}
