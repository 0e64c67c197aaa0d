package twitchapi

// Video is one entry of the video lookup response, keyed by video id.
type Video struct {
	ID       string `json:"id"`
	Duration string `json:"duration"`
	UserID   string `json:"userId"`
}

// User is a comment author or video creator.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"displayName"`
}

// EmbeddedEmote marks a message fragment rendered as an emote.
type EmbeddedEmote struct {
	ID      string `json:"id"`
	EmoteID string `json:"emoteID"`
	From    int    `json:"from"`
}

// MessageFragment is a run of plain text or a single emote.
type MessageFragment struct {
	Emote *EmbeddedEmote `json:"emote"`
	Text  string         `json:"text"`
}

// Badge references a version of a badge set shown next to a commenter.
type Badge struct {
	ID      string `json:"id"`
	SetID   string `json:"setID"`
	Version string `json:"version"`
}

// CommentMessage is the body of a comment.
type CommentMessage struct {
	Fragments  []MessageFragment `json:"fragments"`
	UserBadges []Badge           `json:"userBadges"`
	UserColor  *string           `json:"userColor"`
}

// Comment is a single chat message replayed at ContentOffsetSeconds.
type Comment struct {
	ID                   string         `json:"id"`
	Commenter            *User          `json:"commenter"`
	ContentOffsetSeconds int            `json:"contentOffsetSeconds"`
	CreatedAt            string         `json:"createdAt"`
	Message              CommentMessage `json:"message"`
}

// CommentEdge carries a comment and the opaque cursor associated with it.
type CommentEdge struct {
	Cursor string  `json:"cursor"`
	Node   Comment `json:"node"`
}

// PageInfo is the connection pagination metadata.
type PageInfo struct {
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// CommentsPage is one page of the comment connection.
type CommentsPage struct {
	Edges    []CommentEdge `json:"edges"`
	PageInfo PageInfo      `json:"pageInfo"`
}

// gqlRequest is a single persisted-query operation. The endpoint accepts a
// list of these.
type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Extensions    gqlExtensions  `json:"extensions"`
}

type gqlExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

type persistedQuery struct {
	Version    int    `json:"version"`
	SHA256Hash string `json:"sha256Hash"`
}

type gqlError struct {
	Message string `json:"message"`
}

type commentsResponse struct {
	Data struct {
		Video *struct {
			ID       string        `json:"id"`
			Creator  *User         `json:"creator"`
			Comments *CommentsPage `json:"comments"`
		} `json:"video"`
	} `json:"data"`
	Errors     []gqlError `json:"errors"`
	Extensions struct {
		DurationMilliseconds int    `json:"durationMilliseconds"`
		OperationName        string `json:"operationName"`
		RequestID            string `json:"requestID"`
	} `json:"extensions"`
}
