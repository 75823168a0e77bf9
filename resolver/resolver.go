package resolver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

const PostCollection = "app.bsky.feed.post"
const WebHost = "bsky.app"

const (
	ReasonEmptyInput    = "empty input"
	ReasonNotAPost      = "not a post identifier"
	ReasonInvalidURL    = "invalid URL"
	ReasonWrongDomain   = "wrong domain"
	ReasonMalformedPath = "malformed post path"
)

// Identifier points at a single record in some actor's post collection.
type Identifier struct {
	Authority string
	RecordKey string
}

func (identifier Identifier) String() string {
	return fmt.Sprintf("at://%s/%s/%s", identifier.Authority, PostCollection, identifier.RecordKey)
}

type ResolutionError struct {
	Reason string
}

func (err *ResolutionError) Error() string {
	return fmt.Sprintf("unable to resolve post: %s", err.Reason)
}

func fail(reason string) *ResolutionError {
	return &ResolutionError{Reason: reason}
}

// A strategy either declines the input (claimed == false) or claims it and
// returns exactly one of an identifier or a failure.
type strategy func(input string) (identifier Identifier, failure *ResolutionError, claimed bool)

var strategies = []strategy{
	canonical,
	webURL,
}

func Resolve(input string) (Identifier, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Identifier{}, fail(ReasonEmptyInput)
	}
	for _, parse := range strategies {
		identifier, failure, claimed := parse(input)
		if !claimed {
			continue
		}
		if failure != nil {
			return Identifier{}, failure
		}
		return identifier, nil
	}
	// webURL claims everything, so this is only reachable if the list changes
	return Identifier{}, fail(ReasonInvalidURL)
}

func canonical(input string) (Identifier, *ResolutionError, bool) {
	if len(input) < len("at://") || !strings.EqualFold(input[:len("at://")], "at://") {
		return Identifier{}, nil, false
	}
	raw := "at://" + input[len("at://"):]
	if cut := strings.IndexAny(raw, "?#"); cut >= 0 {
		raw = raw[:cut]
	}
	aturi, err := syntax.ParseATURI(raw)
	if err != nil {
		return Identifier{}, fail(ReasonNotAPost), true
	}
	if aturi.Collection().String() != PostCollection || aturi.RecordKey().String() == "" {
		return Identifier{}, fail(ReasonNotAPost), true
	}
	return Identifier{
		Authority: aturi.Authority().String(),
		RecordKey: aturi.RecordKey().String(),
	}, nil, true
}

func webURL(input string) (Identifier, *ResolutionError, bool) {
	parsed, err := url.Parse(input)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Identifier{}, fail(ReasonInvalidURL), true
	}
	if !strings.EqualFold(parsed.Hostname(), WebHost) {
		return Identifier{}, fail(ReasonWrongDomain), true
	}

	// Split before unescaping so an encoded slash stays inside its segment.
	segments := strings.Split(parsed.EscapedPath(), "/")
	for i, segment := range segments {
		unescaped, err := url.PathUnescape(segment)
		if err != nil {
			return Identifier{}, fail(ReasonMalformedPath), true
		}
		segments[i] = unescaped
	}
	profileAt := markerIndex(segments, "profile", 0)
	if profileAt < 0 {
		return Identifier{}, fail(ReasonMalformedPath), true
	}
	postAt := markerIndex(segments, "post", profileAt+2)
	if postAt < 0 {
		return Identifier{}, fail(ReasonMalformedPath), true
	}
	authority, rkey := segments[profileAt+1], segments[postAt+1]
	if _, err := syntax.ParseAtIdentifier(authority); err != nil {
		return Identifier{}, fail(ReasonMalformedPath), true
	}
	if _, err := syntax.ParseRecordKey(rkey); err != nil {
		return Identifier{}, fail(ReasonMalformedPath), true
	}
	return Identifier{Authority: authority, RecordKey: rkey}, nil, true
}

// markerIndex finds the first segment equal to marker at or after from that
// is followed by a non-empty segment.
func markerIndex(segments []string, marker string, from int) int {
	for i := from; i < len(segments)-1; i++ {
		if segments[i] == marker && segments[i+1] != "" {
			return i
		}
	}
	return -1
}
