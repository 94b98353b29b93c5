package classify

import "tangle/api/internal/store"

// Kind is the structural shape of a message in a thread.
type Kind string

const (
	Root     Kind = "root"
	Comment  Kind = "comment"
	Subtopic Kind = "subtopic"
	Mystery  Kind = "mystery"
)

// IsPost reports whether a message is a post with string text.
func IsPost(msg store.Message) bool {
	return msg.Content.Type == store.TypePost && msg.Content.HasText
}

func Classify(msg store.Message) Kind {
	if !IsPost(msg) {
		return Mystery
	}
	hasRoot := msg.Content.Root != ""
	hasFork := msg.Content.Fork != ""
	switch {
	case !hasRoot && !hasFork:
		return Root
	case hasRoot && hasFork:
		return Subtopic
	case hasRoot:
		return Comment
	default:
		return Mystery
	}
}
