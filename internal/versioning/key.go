package versioning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
)

type Kind string

const (
	Published Kind = "published"
	Draft     Kind = "draft"
)

// Key identifies a revision snapshot. Its string form is "published-3" for
// published revisions and "draft-3.1" for draft revisions.
type Key struct {
	Kind  Kind
	Major int
	Minor int
}

func PublishedKey(n int) Key {
	return Key{Kind: Published, Major: n}
}

func DraftKey(published, draft int) Key {
	return Key{Kind: Draft, Major: published, Minor: draft}
}

func (k Key) String() string {
	if k.Kind == Draft {
		return fmt.Sprintf("%s-%d.%d", k.Kind, k.Major, k.Minor)
	}
	return fmt.Sprintf("%s-%d", k.Kind, k.Major)
}

// ParseKey parses the string form of a Key.
func ParseKey(s string) (Key, error) {
	kind, rest, ok := strings.Cut(s, "-")
	if !ok {
		return Key{}, apperr.Validation.New("invalid revision %q", s)
	}

	major, minor, hasMinor := strings.Cut(rest, ".")
	key := Key{Kind: Kind(kind)}

	var err error
	if key.Major, err = strconv.Atoi(major); err != nil || key.Major < 0 {
		return Key{}, apperr.Validation.New("invalid revision %q", s)
	}

	switch key.Kind {
	case Published:
		if hasMinor {
			return Key{}, apperr.Validation.New("invalid revision %q", s)
		}
	case Draft:
		if !hasMinor {
			return Key{}, apperr.Validation.New("invalid revision %q", s)
		}
		if key.Minor, err = strconv.Atoi(minor); err != nil || key.Minor < 0 {
			return Key{}, apperr.Validation.New("invalid revision %q", s)
		}
	default:
		return Key{}, apperr.Validation.New("invalid revision %q", s)
	}
	return key, nil
}
