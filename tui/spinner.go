package tui

import (
	"context"
	"sync"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner displays a spinner while action runs. Without a terminal the
// action runs directly. ShowSpinner returns once action has completed, even
// when ctx is done first.
func ShowSpinner(ctx context.Context, title string, action func()) {
	if !HasTTY {
		action()
		return
	}
	var once sync.Once
	_ = spinner.New().
		Context(ctx).
		Title(title).
		Action(func() { once.Do(action) }).
		Run()
	once.Do(action)
}
