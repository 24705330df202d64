package knowledge

import (
	"errors"
	"fmt"
	"sort"
)

// Reserved topics that configure pipeline-wide text instead of a Q&A pair.
const (
	TopicGreeting = "::greeting::"
	TopicFallback = "::fallback::"
)

// ErrDuplicateSentinel is returned when more than one greeting or fallback
// entry exists.
var ErrDuplicateSentinel = errors.New("duplicate sentinel entry")

// IsSentinel reports whether topic is one of the reserved topics.
func IsSentinel(topic string) bool {
	n := Normalize(topic)
	return n == TopicGreeting || n == TopicFallback
}

// Corpus is the FAQ set split into matchable entries and sentinels.
type Corpus struct {
	Entries  []FAQ
	Greeting *FAQ
	Fallback *FAQ
	byID     map[string]int
}

// SplitCorpus separates the sentinel entries from the matchable ones and
// checks that at most one of each sentinel exists.
func SplitCorpus(faqs []FAQ) (Corpus, error) {
	c := Corpus{byID: make(map[string]int, len(faqs))}
	for i := range faqs {
		f := faqs[i]
		switch Normalize(f.Topic) {
		case TopicGreeting:
			if c.Greeting != nil {
				return Corpus{}, fmt.Errorf("%w: %s", ErrDuplicateSentinel, TopicGreeting)
			}
			c.Greeting = &f
		case TopicFallback:
			if c.Fallback != nil {
				return Corpus{}, fmt.Errorf("%w: %s", ErrDuplicateSentinel, TopicFallback)
			}
			c.Fallback = &f
		default:
			c.byID[f.ID] = len(c.Entries)
			c.Entries = append(c.Entries, f)
		}
	}
	return c, nil
}

// Lookup returns the matchable entry with the given id.
func (c Corpus) Lookup(id string) (FAQ, bool) {
	i, ok := c.byID[id]
	if !ok {
		return FAQ{}, false
	}
	return c.Entries[i], true
}

// SortAliases orders aliases most recently updated first, then by id, so
// that colliding aliases resolve deterministically.
func SortAliases(aliases []Alias) {
	sort.SliceStable(aliases, func(i, j int) bool {
		if !aliases[i].UpdatedAt.Equal(aliases[j].UpdatedAt) {
			return aliases[i].UpdatedAt.After(aliases[j].UpdatedAt)
		}
		return aliases[i].ID < aliases[j].ID
	})
}
