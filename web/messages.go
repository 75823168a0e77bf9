package web

import (
	"net/http"

	"github.com/orthanc/postcleaner/cleaner"
	"github.com/orthanc/postcleaner/resolver"
)

var resolutionMessages = map[string]string{
	resolver.ReasonEmptyInput:    "Enter the URL of one of your posts",
	resolver.ReasonNotAPost:      "Enter the URI of a post",
	resolver.ReasonInvalidURL:    "Invalid URL",
	resolver.ReasonWrongDomain:   "Enter a bsky.app URL",
	resolver.ReasonMalformedPath: "Enter the URL of a post",
}

func message(outcome cleaner.Outcome) string {
	switch outcome.Kind {
	case cleaner.Success:
		return "Post deleted"
	case cleaner.ResolutionFailed:
		if text, ok := resolutionMessages[outcome.Reason]; ok {
			return text
		}
		return "Invalid input"
	case cleaner.OwnershipDenied:
		return "This only works on your own posts"
	case cleaner.RecordNotFound:
		return "Post not found"
	case cleaner.RemoteError:
		if outcome.Overwritten {
			return "The post was overwritten but could not be deleted. Submit it again to finish deleting it"
		}
		return "An error occurred"
	default:
		return "An error occurred"
	}
}

func statusCode(outcome cleaner.Outcome) int {
	switch outcome.Kind {
	case cleaner.Success:
		return http.StatusOK
	case cleaner.ResolutionFailed:
		return http.StatusBadRequest
	case cleaner.OwnershipDenied:
		return http.StatusForbidden
	case cleaner.RecordNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
