package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by prompts when stdin is not a terminal.
var ErrNotInteractive = errors.New("prompt requires an interactive terminal")

// GroupChoice is the outcome of the group setup form.
type GroupChoice struct {
	// Create is true for a new group, false to join an existing one
	Create bool

	// Name of the new group when Create is set
	Name string

	// GroupID to join when Create is not set
	GroupID string
}

// PromptGroupSetup asks whether to create a new group or join one by ID.
func PromptGroupSetup() (GroupChoice, error) {
	var mode, value string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("You are not in a shopping list group yet").
				Options(
					huh.NewOption("Create a new group", "create"),
					huh.NewOption("Join an existing group", "join"),
				).
				Value(&mode),
		),
		huh.NewGroup(
			huh.NewInput().
				TitleFunc(func() string {
					if mode == "create" {
						return "Group name"
					}
					return "Group ID (ask a member to share it)"
				}, &mode).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("required")
					}
					return nil
				}).
				Value(&value),
		),
	)
	if err := form.Run(); err != nil {
		return GroupChoice{}, err
	}

	value = strings.TrimSpace(value)
	if mode == "create" {
		return GroupChoice{Create: true, Name: value}, nil
	}
	return GroupChoice{GroupID: value}, nil
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}
