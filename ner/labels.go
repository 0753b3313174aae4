// Package ner holds the pieces of a token-classification pipeline that are not delegated to the
// model: aligning word-level BIO labels to sub-word tokens, and decoding per-token tag predictions
// back into entity spans of the original text.
//
// Both operations are pure functions over their inputs and can be called concurrently for
// independent examples.
package ner

import (
	"strings"

	"github.com/pkg/errors"
)

// OutsideTag is the tag for tokens that are not part of any entity.
const OutsideTag = "O"

// Tag prefixes of the BIO scheme.
const (
	BeginPrefix  = "B-"
	InsidePrefix = "I-"
)

// Example is one labeled sentence: its tokens (characters for Chinese corpora like MSRA, words
// otherwise) and the label id of each token.
type Example struct {
	Tokens []string
	Labels []int
}

// Text returns the concatenation of the example tokens.
func (e Example) Text() string {
	return strings.Join(e.Tokens, "")
}

// Tag is a parsed BIO tag.
type Tag struct {
	// Prefix is "B", "I" or "O".
	Prefix string
	// Type is the entity type, empty for "O".
	Type string
}

// ParseTag parses "O", "B-<Type>" or "I-<Type>".
func ParseTag(s string) (Tag, error) {
	switch {
	case s == OutsideTag:
		return Tag{Prefix: OutsideTag}, nil
	case strings.HasPrefix(s, BeginPrefix) && len(s) > len(BeginPrefix):
		return Tag{Prefix: "B", Type: s[len(BeginPrefix):]}, nil
	case strings.HasPrefix(s, InsidePrefix) && len(s) > len(InsidePrefix):
		return Tag{Prefix: "I", Type: s[len(InsidePrefix):]}, nil
	}
	return Tag{}, errors.Wrapf(ErrInvalidInput, "tag %q is not of the form O, B-<Type> or I-<Type>", s)
}

// String returns the tag in its "B-<Type>" form.
func (t Tag) String() string {
	if t.Prefix == OutsideTag {
		return OutsideTag
	}
	return t.Prefix + "-" + t.Type
}

// LabelSet is the bijective mapping between label ids and tag names, fixed when the dataset is
// loaded. The id of a label is its position in the list.
type LabelSet struct {
	names []string
	ids   map[string]int
}

// NewLabelSet creates a LabelSet from the ordered label names. Names must be unique.
func NewLabelSet(names []string) (*LabelSet, error) {
	if len(names) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "empty label list")
	}
	ls := &LabelSet{
		names: make([]string, len(names)),
		ids:   make(map[string]int, len(names)),
	}
	copy(ls.names, names)
	for id, name := range names {
		if prev, found := ls.ids[name]; found {
			return nil, errors.Wrapf(ErrInvalidInput, "label %q appears twice (ids %d and %d)", name, prev, id)
		}
		ls.ids[name] = id
	}
	return ls, nil
}

// Len returns the number of labels.
func (ls *LabelSet) Len() int { return len(ls.names) }

// Names returns a copy of the label names, in id order.
func (ls *LabelSet) Names() []string {
	out := make([]string, len(ls.names))
	copy(out, ls.names)
	return out
}

// Name returns the tag name for id.
func (ls *LabelSet) Name(id int) (string, bool) {
	if id < 0 || id >= len(ls.names) {
		return "", false
	}
	return ls.names[id], true
}

// ID returns the id for the tag name.
func (ls *LabelSet) ID(name string) (int, bool) {
	id, ok := ls.ids[name]
	return id, ok
}

// NoEntityID returns the id of the "O" label, which is also used as the padding and boundary
// label during alignment. Label sets without an explicit "O" use their last label, as datasets
// conventionally list it last.
func (ls *LabelSet) NoEntityID() int {
	if id, ok := ls.ids[OutsideTag]; ok {
		return id
	}
	return len(ls.names) - 1
}
