package app

import "tangle/api/internal/enrich"

// MessageView is the JSON shape of one enriched message.
type MessageView struct {
	ID           string          `json:"id"`
	Author       string          `json:"author"`
	AuthorName   string          `json:"authorName"`
	AuthorAvatar string          `json:"authorAvatar"`
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	Root         string          `json:"root,omitempty"`
	Fork         string          `json:"fork,omitempty"`
	PostKind     string          `json:"postKind"`
	Likes        int             `json:"likes"`
	LikedBy      []string        `json:"likedBy"`
	ViewerLiked  bool            `json:"viewerLiked"`
	Recipients   []enrich.Person `json:"recipients,omitempty"`
	Private      bool            `json:"private"`
	Blocking     bool            `json:"blocking"`
	Timestamp    string          `json:"timestamp"`
	ISOTimestamp string          `json:"isoTimestamp"`
	Depth        int             `json:"depth,omitempty"`
	Subtopic     bool            `json:"subtopic,omitempty"`
	Target       bool            `json:"target,omitempty"`
	Replies      []MessageView   `json:"replies,omitempty"`
}

func newMessageView(e *enrich.Entry) MessageView {
	likedBy := e.LikedBy
	if likedBy == nil {
		likedBy = []string{}
	}
	return MessageView{
		ID:           e.Message.ID,
		Author:       e.Message.Author,
		AuthorName:   e.AuthorName,
		AuthorAvatar: e.AuthorAvatar,
		Type:         e.Message.Content.Type,
		Text:         e.Text,
		Root:         e.Message.Content.Root,
		Fork:         e.Message.Content.Fork,
		PostKind:     string(e.PostKind),
		Likes:        len(e.LikedBy),
		LikedBy:      likedBy,
		ViewerLiked:  e.ViewerLiked,
		Recipients:   e.Recipients,
		Private:      e.Message.Private,
		Blocking:     e.Blocking,
		Timestamp:    e.Timestamp,
		ISOTimestamp: e.ISOTimestamp,
	}
}
