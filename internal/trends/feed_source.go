package trends

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"
)

// FeedSource seeds candidates from the item titles of an RSS or Atom feed,
// such as a bestseller list.
type FeedSource struct {
	url    string
	limit  int
	parser *gofeed.Parser
}

// NewFeedSource reads at most limit titles from url; limit <= 0 means all.
func NewFeedSource(url string, limit int) *FeedSource {
	return &FeedSource{url: url, limit: limit, parser: gofeed.NewParser()}
}

// Candidates implements Source.
func (s *FeedSource) Candidates(ctx context.Context) ([]string, error) {
	feed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.url, err)
	}
	out := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		if s.limit > 0 && len(out) >= s.limit {
			break
		}
		if item == nil {
			continue
		}
		out = append(out, item.Title)
	}
	return out, nil
}
