// Package enrich attaches display metadata to raw messages: author identity,
// vote tallies, blog bodies, recipients and timestamps.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"tangle/api/internal/blob"
	"tangle/api/internal/classify"
	"tangle/api/internal/metrics"
	"tangle/api/internal/social"
	"tangle/api/internal/store"
)

const (
	RedactedName   = "Redacted"
	RedactedAvatar = "/assets/images/redacted-avatar.png"
	defaultWorkers = 4
)

type Identity interface {
	Name(ctx context.Context, id string) (string, error)
	Avatar(ctx context.Context, id string) (string, error)
	PublicOptIn(ctx context.Context, id string) (bool, error)
}

type Blobs interface {
	Get(ctx context.Context, blobID string) (string, error)
}

// Reader is the part of the store enrichment reads votes from.
type Reader interface {
	ReverseReferences(ctx context.Context, target string, q store.RefQuery) (store.Stream, error)
}

// Viewer is who the feed is rendered for. Public viewers only see names of
// authors who opted into public display.
type Viewer struct {
	ID     string
	Public bool
}

type Person struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type Entry struct {
	Message      store.Message
	AuthorName   string
	AuthorAvatar string
	Text         string
	// Votes maps each voting author to their clamped latest vote.
	Votes        map[string]float64
	LikedBy      []string
	ViewerLiked  bool
	PostKind     classify.Kind
	Recipients   []Person
	Blocking     bool
	Timestamp    string
	ISOTimestamp string
}

type Pipeline struct {
	store    Reader
	identity Identity
	blobs    Blobs
	workers  int
	now      func() time.Time
}

// New builds a pipeline. blobs may be nil, in which case blog bodies are
// left out.
func New(reader Reader, identity Identity, blobs Blobs, workers int) *Pipeline {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{store: reader, identity: identity, blobs: blobs, workers: workers, now: time.Now}
}

// Enrich returns one entry per message, in order. An entry is nil when its
// message could not be enriched; the batch carries on. Only cancellation of
// ctx fails the whole call.
func (p *Pipeline) Enrich(ctx context.Context, viewer Viewer, snap social.Snapshot, msgs []store.Message) ([]*Entry, error) {
	out := make([]*Entry, len(msgs))
	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for i, msg := range msgs {
		g.Go(func() error {
			entry, err := p.enrichOne(ctx, viewer, snap, msg)
			if err != nil {
				if ctx.Err() == nil {
					metrics.EnrichFailures.Inc()
					log.Printf("enrich: dropping %s: %v", msg.ID, err)
				}
				return nil
			}
			out[i] = entry
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Compact drops the entries that failed enrichment.
func Compact(entries []*Entry) []*Entry {
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (p *Pipeline) enrichOne(ctx context.Context, viewer Viewer, snap social.Snapshot, msg store.Message) (*Entry, error) {
	entry := &Entry{
		Message:      msg,
		Text:         msg.Content.Text,
		PostKind:     classify.Classify(msg),
		Blocking:     snap.IsBlocking(msg.Author),
		Timestamp:    humanize.RelTime(msg.Timestamp, p.now(), "ago", "from now"),
		ISOTimestamp: msg.Timestamp.UTC().Format(time.RFC3339),
	}

	author, err := p.person(ctx, viewer, msg.Author)
	if err != nil {
		return nil, err
	}
	entry.AuthorName, entry.AuthorAvatar = author.Name, author.Avatar

	if msg.Content.Type == store.TypeBlog {
		text, err := p.blogText(ctx, msg.Content)
		if err != nil {
			return nil, err
		}
		entry.Text = text
	}

	if err := p.tallyVotes(ctx, viewer, entry); err != nil {
		return nil, err
	}

	if msg.Private {
		for _, id := range msg.Content.Recipients {
			recipient, err := p.person(ctx, viewer, id)
			if err != nil {
				return nil, err
			}
			entry.Recipients = append(entry.Recipients, recipient)
		}
	}
	return entry, nil
}

func (p *Pipeline) person(ctx context.Context, viewer Viewer, id string) (Person, error) {
	if viewer.Public && id != viewer.ID {
		optIn, err := p.identity.PublicOptIn(ctx, id)
		if err != nil {
			return Person{}, fmt.Errorf("public opt-in of %s: %w", id, err)
		}
		if !optIn {
			return Person{ID: id, Name: RedactedName, Avatar: RedactedAvatar}, nil
		}
	}
	name, err := p.identity.Name(ctx, id)
	if err != nil {
		return Person{}, fmt.Errorf("name of %s: %w", id, err)
	}
	avatar, err := p.identity.Avatar(ctx, id)
	if err != nil {
		return Person{}, fmt.Errorf("avatar of %s: %w", id, err)
	}
	return Person{ID: id, Name: name, Avatar: avatar}, nil
}

// blogText composes the title, the optional summary and the blob body. A
// body that has not been replicated yet is left out.
func (p *Pipeline) blogText(ctx context.Context, content store.Content) (string, error) {
	parts := []string{"# " + strings.TrimSpace(content.Title)}
	if summary := strings.TrimSpace(content.Summary); summary != "" {
		parts = append(parts, summary)
	}
	if p.blobs != nil && content.Blog != "" {
		body, err := p.blobs.Get(ctx, content.Blog)
		switch {
		case errors.Is(err, blob.ErrNotFound):
			// not replicated yet
		case err != nil:
			return "", fmt.Errorf("blog body %s: %w", content.Blog, err)
		default:
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (p *Pipeline) tallyVotes(ctx context.Context, viewer Viewer, entry *Entry) error {
	stream, err := p.store.ReverseReferences(ctx, entry.Message.ID, store.RefQuery{Types: []string{store.TypeVote}})
	if err != nil {
		return fmt.Errorf("votes on %s: %w", entry.Message.ID, err)
	}
	refs, err := store.Collect(ctx, stream)
	if err != nil {
		return fmt.Errorf("votes on %s: %w", entry.Message.ID, err)
	}

	votes, order := Tally(entry.Message.ID, refs)
	entry.Votes = votes
	for _, author := range order {
		if votes[author] != 1 {
			continue
		}
		liker, err := p.person(ctx, viewer, author)
		if err != nil {
			return err
		}
		entry.LikedBy = append(entry.LikedBy, liker.Name)
	}
	entry.ViewerLiked = votes[viewer.ID] == 1
	return nil
}

// Tally folds vote messages on target into one clamped value per author; a
// later vote replaces an earlier one. order lists authors by first vote.
func Tally(target string, refs []store.Message) (map[string]float64, []string) {
	votes := make(map[string]float64)
	var order []string
	for _, ref := range refs {
		vote := ref.Content.Vote
		if ref.Content.Type != store.TypeVote || vote == nil || vote.Link != target {
			continue
		}
		if _, seen := votes[ref.Author]; !seen {
			order = append(order, ref.Author)
		}
		votes[ref.Author] = vote.Clamped()
	}
	return votes, order
}
