package twitchapi

// BadgeVersion is the icon metadata of one badge version.
type BadgeVersion struct {
	ImageURL1x  string `json:"image_url_1x"`
	ImageURL2x  string `json:"image_url_2x"`
	ImageURL4x  string `json:"image_url_4x"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
	ClickURL    string `json:"click_url,omitempty"`
}

// BadgeSet maps a version id to its icon metadata.
type BadgeSet struct {
	Versions map[string]BadgeVersion `json:"versions"`
}

// BadgeCatalog maps a set id (e.g. "moderator") to its versions.
type BadgeCatalog map[string]BadgeSet

type badgesResponse struct {
	BadgeSets BadgeCatalog `json:"badge_sets"`
}

// Lookup resolves a badge reference against the catalog.
func (c BadgeCatalog) Lookup(b Badge) (BadgeVersion, bool) {
	set, ok := c[b.SetID]
	if !ok {
		return BadgeVersion{}, false
	}
	v, ok := set.Versions[b.Version]
	return v, ok
}

// MergeBadgeCatalogs returns a catalog holding every set of global and
// channel. When both define a set id the channel's set replaces the global
// one as a whole; versions are never mixed across sources. Inputs are not
// modified.
func MergeBadgeCatalogs(global, channel BadgeCatalog) BadgeCatalog {
	out := make(BadgeCatalog, len(global)+len(channel))
	for id, set := range global {
		out[id] = set
	}
	for id, set := range channel {
		out[id] = set
	}
	return out
}

// BadgeScope selects the global badge catalog or a channel's catalog.
type BadgeScope struct {
	channelID string
}

// GlobalBadges is the scope of badges available in every channel.
var GlobalBadges = BadgeScope{}

// ChannelBadges is the scope of badges defined by one channel.
func ChannelBadges(channelID string) BadgeScope { return BadgeScope{channelID: channelID} }

func (s BadgeScope) path() string {
	if s.channelID == "" {
		return "global/display"
	}
	return "channels/" + s.channelID + "/display"
}

func (s BadgeScope) String() string {
	if s.channelID == "" {
		return "global"
	}
	return "channel:" + s.channelID
}
