package docstore

import (
	"strings"
)

// Path addresses a document ("rooms/ABCD") or a collection
// ("rooms/ABCD/participants"). Documents have an even number of segments.
type Path string

// Doc joins segments into a path. Empty segments are rejected by validation,
// not here.
func Doc(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

func (p Path) IsDocument() bool {
	n := len(p.Segments())
	return n > 0 && n%2 == 0
}

func (p Path) IsCollection() bool {
	return len(p.Segments())%2 == 1
}

// ID is the last segment.
func (p Path) ID() string {
	s := p.Segments()
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// Parent returns the collection containing a document, or the document
// owning a collection. The parent of a top-level collection is "".
func (p Path) Parent() Path {
	i := strings.LastIndex(string(p), "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Owner returns the document a document is nested under, or "" for
// top-level documents.
func (p Path) Owner() Path {
	if !p.IsDocument() {
		return ""
	}
	return p.Parent().Parent()
}

func (p Path) Collection(name string) Path {
	return Path(string(p) + "/" + name)
}

func (p Path) Child(id string) Path {
	return Path(string(p) + "/" + id)
}

func (p Path) valid() bool {
	for _, s := range p.Segments() {
		if s == "" {
			return false
		}
	}
	return p != ""
}
