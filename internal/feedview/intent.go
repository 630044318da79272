package feedview

import "github.com/starford/carenotes/internal/feed"

// Intent is a user action decoded from input.
type Intent interface {
	intent()
}

type (
	// Open asks to show a note in full.
	Open       struct{ ID string }
	ToggleStar struct{ ID string }
	Delete     struct{ ID string }
	Edit       struct{ ID, Content string }
	// Search sets the search term; empty clears it.
	Search    struct{ Term string }
	FilterTag struct{ Tag string }
	SetScope  struct{ Scope feed.Scope }
	Refresh   struct{}
	// Back returns from a note to the feed.
	Back struct{}
	// Logout ends the session and leaves.
	Logout struct{}
	Quit   struct{}
)

func (Open) intent()       {}
func (ToggleStar) intent() {}
func (Delete) intent()     {}
func (Edit) intent()       {}
func (Search) intent()     {}
func (FilterTag) intent()  {}
func (SetScope) intent()   {}
func (Refresh) intent()    {}
func (Back) intent()       {}
func (Logout) intent()     {}
func (Quit) intent()       {}
