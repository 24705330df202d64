// Package matching resolves an utterance to an FAQ entry without generating
// text: first by normalized equality, then by embedding similarity.
package matching

import (
	"github.com/hotelbook/concierge/internal/knowledge"
)

// Source identifies which comparison produced a match.
type Source string

const (
	SourceTopic    Source = "topic"
	SourceOption   Source = "option"
	SourceAlias    Source = "alias"
	SourceSemantic Source = "semantic"
)

// Match is a resolved FAQ entry. Option is set only for SourceOption, and
// Score only for SourceSemantic.
type Match struct {
	FAQ    knowledge.FAQ
	Source Source
	Option *knowledge.OptionDetail
	Alias  string
	Score  float32
}

// Exact compares the utterance against every topic, then every option label
// of option_details entries, then every alias. The first equal value wins.
// aliases are consulted in the order given; callers pass them through
// knowledge.SortAliases so collisions resolve to the most recently updated.
// Aliases of sentinel or unknown entries are ignored.
func Exact(utterance string, corpus knowledge.Corpus, aliases []knowledge.Alias) (Match, bool) {
	u := knowledge.Normalize(utterance)
	if u == "" {
		return Match{}, false
	}

	for _, f := range corpus.Entries {
		if knowledge.Normalize(f.Topic) == u {
			return Match{FAQ: f, Source: SourceTopic}, true
		}
	}

	for _, f := range corpus.Entries {
		opts, ok := f.Reply.(knowledge.OptionsReply)
		if !ok {
			continue
		}
		for i := range opts.Options {
			if knowledge.Normalize(opts.Options[i].Option) == u {
				o := opts.Options[i]
				return Match{FAQ: f, Source: SourceOption, Option: &o}, true
			}
		}
	}

	for _, a := range aliases {
		if knowledge.Normalize(a.Alias) != u {
			continue
		}
		f, ok := corpus.Lookup(a.FAQID)
		if !ok {
			continue
		}
		return Match{FAQ: f, Source: SourceAlias, Alias: a.Alias}, true
	}
	return Match{}, false
}
