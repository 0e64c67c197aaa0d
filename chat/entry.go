package chat

import (
	"strings"

	"github.com/onnwee/rechat/backend/color"
	"github.com/onnwee/rechat/backend/twitchapi"
)

// Entry is a replayable chat line with colors precomputed for both themes.
type Entry struct {
	ID          string                      `json:"id"`
	Timestamp   int                         `json:"timestamp"`
	CreatedAt   string                      `json:"created_at,omitempty"`
	DisplayName string                      `json:"display_name"`
	Name        string                      `json:"name"`
	Color       *string                     `json:"color"`
	DarkColor   *string                     `json:"dark_color"`
	Badges      []twitchapi.Badge           `json:"badges"`
	Message     []twitchapi.MessageFragment `json:"message"`
}

// streamerBadges are the badge sets that mark a commenter as part of the channel.
var streamerBadges = map[string]struct{}{
	"broadcaster": {},
	"vip":         {},
	"moderator":   {},
	"partner":     {},
}

// knownBots lists bot accounts that carry channel badges but whose login does
// not end in "bot".
var knownBots = map[string]struct{}{
	"ssakdook":       {},
	"bbangddeock":    {},
	"cubicbot_":      {},
	"streamelements": {},
	"streamlabs":     {},
	"twipkr":         {},
	"dolmaig":        {},
}

// ToEntries converts a batch of comment edges into entries, running each
// commenter color through the light and dark adjusters once. A nil adjuster
// leaves the corresponding color unset.
func ToEntries(edges []twitchapi.CommentEdge, light, dark *color.Adjuster) []Entry {
	out := make([]Entry, 0, len(edges))
	for _, e := range edges {
		n := e.Node
		entry := Entry{
			ID:        n.ID,
			Timestamp: n.ContentOffsetSeconds,
			CreatedAt: n.CreatedAt,
			Badges:    n.Message.UserBadges,
			Message:   n.Message.Fragments,
		}
		if n.Commenter != nil {
			entry.DisplayName = n.Commenter.DisplayName
			entry.Name = n.Commenter.Login
		}
		if entry.Badges == nil {
			entry.Badges = []twitchapi.Badge{}
		}
		if entry.Message == nil {
			entry.Message = []twitchapi.MessageFragment{}
		}
		if light != nil {
			entry.Color = light.Process(n.Message.UserColor)
		}
		if dark != nil {
			entry.DarkColor = dark.Process(n.Message.UserColor)
		}
		out = append(out, entry)
	}
	return out
}

// IsStreamer reports whether e was written by the broadcaster, a moderator,
// a VIP or a partner, excluding bot accounts.
func IsStreamer(e Entry) bool {
	name := strings.ToLower(e.Name)
	if strings.HasSuffix(name, "bot") {
		return false
	}
	if _, bot := knownBots[name]; bot {
		return false
	}
	for _, b := range e.Badges {
		if _, ok := streamerBadges[b.SetID]; ok {
			return true
		}
	}
	return false
}

// FilterEntries returns the entries of batch that satisfy keep, preserving order.
func FilterEntries(batch []Entry, keep func(Entry) bool) []Entry {
	if keep == nil {
		return batch
	}
	out := make([]Entry, 0, len(batch))
	for _, e := range batch {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
