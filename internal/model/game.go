package model

import (
	"fmt"
	"sort"
)

// Game identifies a directory category. Two games are the same game when
// their IDs match; names and slugs are display metadata.
type Game struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Equal returns true if two games have the same ID.
func (g Game) Equal(other Game) bool {
	return g.ID != 0 && g.ID == other.ID
}

// Zero reports whether the game is unset.
func (g Game) Zero() bool {
	return g.ID == 0
}

// String returns a human-readable representation of the game.
func (g Game) String() string {
	return fmt.Sprintf("Game(id=%d, name=%s)", g.ID, g.Name)
}

// WantedGames is the ordered game → priority mapping rebuilt on every games
// update. Higher priority values are preferred; games present in the user's
// priority list rank above unlisted ones, which carry priority 0.
type WantedGames struct {
	games []Game
	prio  map[int]int
}

// NewWantedGames returns an empty wanted-games set.
func NewWantedGames() *WantedGames {
	return &WantedGames{prio: make(map[int]int)}
}

// Add registers a game with the given priority value. Re-adding a game
// keeps the higher of the two priorities.
func (w *WantedGames) Add(game Game, priority int) {
	if existing, ok := w.prio[game.ID]; ok {
		if priority > existing {
			w.prio[game.ID] = priority
		}
		return
	}
	w.games = append(w.games, game)
	w.prio[game.ID] = priority
}

// PriorityOf returns the priority value for a game and whether it is wanted.
func (w *WantedGames) PriorityOf(game Game) (int, bool) {
	p, ok := w.prio[game.ID]
	return p, ok
}

// Contains reports whether the game is wanted.
func (w *WantedGames) Contains(game Game) bool {
	_, ok := w.prio[game.ID]
	return ok
}

// Games returns the wanted games ordered by priority descending, stable by
// insertion order for equal priorities.
func (w *WantedGames) Games() []Game {
	out := make([]Game, len(w.games))
	copy(out, w.games)
	sort.SliceStable(out, func(i, j int) bool {
		return w.prio[out[i].ID] > w.prio[out[j].ID]
	})
	return out
}

// Len returns the number of wanted games.
func (w *WantedGames) Len() int {
	if w == nil {
		return 0
	}
	return len(w.games)
}
