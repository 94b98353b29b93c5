package storetest

import (
	"time"

	"tangle/api/internal/store"
)

// Epoch is the timestamp fixtures are laid out from.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Post builds a public post. root and fork may be empty.
func Post(id, author, text, root, fork string, at time.Time) store.Message {
	return store.Message{
		ID:        id,
		Author:    author,
		Timestamp: at,
		Content: store.Content{
			Type:    store.TypePost,
			Text:    text,
			HasText: true,
			Root:    root,
			Fork:    fork,
		},
	}
}

// Vote builds a public vote by author on link.
func Vote(id, author, link string, value float64, at time.Time) store.Message {
	return store.Message{
		ID:        id,
		Author:    author,
		Timestamp: at,
		Content: store.Content{
			Type: store.TypeVote,
			Vote: &store.Vote{Link: link, Value: value},
		},
	}
}

// About builds a self-describing about message.
func About(id, author, name, image string, publicWeb bool, at time.Time) store.Message {
	return store.Message{
		ID:        id,
		Author:    author,
		Timestamp: at,
		Content: store.Content{
			Type:      store.TypeAbout,
			About:     author,
			Name:      name,
			Image:     image,
			PublicWeb: &publicWeb,
		},
	}
}
