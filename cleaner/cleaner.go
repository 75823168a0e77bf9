package cleaner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/orthanc/postcleaner/resolver"
)

const (
	PlaceholderText = "Deleting via bsky-post-cleaner"
	OriginMarker    = "bsky-post-cleaner"
	Backdate        = 24 * time.Hour
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

var ErrNotFound = errors.New("record not found")

// Actor is the signed-in account a deletion runs as.
type Actor struct {
	Handle string
	DID    string
}

func (actor Actor) Owns(authority string) bool {
	if authority == "" {
		return false
	}
	if authority == actor.DID {
		return true
	}
	return actor.Handle != "" && strings.EqualFold(authority, actor.Handle)
}

type Payload struct {
	Text      string `json:"text"`
	Via       string `json:"via"`
	CreatedAt string `json:"createdAt"`
}

type RecordStore interface {
	// GetRecord returns the record's CID, or an error wrapping ErrNotFound.
	GetRecord(ctx context.Context, repo string, collection string, rkey string) (string, error)
	// PutRecord replaces the record. An empty swapCID skips the compare and swap.
	PutRecord(ctx context.Context, repo string, collection string, rkey string, payload Payload, swapCID string) (string, error)
	DeleteRecord(ctx context.Context, repo string, collection string, rkey string) error
}

type Config struct {
	// VerifyExists fetches the record before mutating it so that a missing
	// post is reported as RecordNotFound instead of being recreated by the
	// overwrite.
	VerifyExists bool
}

type Cleaner struct {
	store  RecordStore
	config Config
	logger *log.Logger
	now    func() time.Time
}

func NewCleaner(store RecordStore, config Config, logger *log.Logger) *Cleaner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Cleaner{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Clean resolves input and deletes the post it names.
func (cleaner *Cleaner) Clean(ctx context.Context, input string, actor Actor) Outcome {
	identifier, err := resolver.Resolve(input)
	if err != nil {
		var resolutionErr *resolver.ResolutionError
		if errors.As(err, &resolutionErr) {
			return resolutionFailed(resolutionErr.Reason)
		}
		return resolutionFailed(err.Error())
	}
	return cleaner.DeletePost(ctx, identifier, actor)
}

func (cleaner *Cleaner) DeletePost(ctx context.Context, identifier resolver.Identifier, actor Actor) Outcome {
	if identifier.Authority == "" || identifier.RecordKey == "" {
		return resolutionFailed(resolver.ReasonNotAPost)
	}
	logger := cleaner.logger.With("uri", identifier.String(), "actor", actor.DID)
	if !actor.Owns(identifier.Authority) {
		logger.Warn("refusing to clean a post owned by someone else")
		return Outcome{Kind: OwnershipDenied, Identifier: identifier}
	}
	repo := actor.DID
	rkey := identifier.RecordKey

	swapCID := ""
	if cleaner.config.VerifyExists {
		cid, err := guarded(func() (string, error) {
			return cleaner.store.GetRecord(ctx, repo, resolver.PostCollection, rkey)
		})
		if errors.Is(err, ErrNotFound) {
			logger.Info("post not found")
			return Outcome{Kind: RecordNotFound, Identifier: identifier}
		}
		if err != nil {
			logger.Error("existence check failed", "err", err)
			return remoteError(identifier, StageCheck, err)
		}
		swapCID = cid
	}

	if err := ctx.Err(); err != nil {
		return remoteError(identifier, StageOverwrite, err)
	}
	// From here on the sequence runs to completion even if the caller goes away.
	mutateCtx := context.WithoutCancel(ctx)

	payload := cleaner.placeholder()
	_, err := guarded(func() (string, error) {
		return cleaner.store.PutRecord(mutateCtx, repo, resolver.PostCollection, rkey, payload, swapCID)
	})
	if err != nil {
		logger.Error("overwrite failed", "err", err)
		return remoteError(identifier, StageOverwrite, err)
	}
	logger.Debug("post overwritten", "createdAt", payload.CreatedAt)

	_, err = guarded(func() (struct{}, error) {
		return struct{}{}, cleaner.store.DeleteRecord(mutateCtx, repo, resolver.PostCollection, rkey)
	})
	if err != nil {
		logger.Error("post overwritten but delete failed, retry the delete", "err", err)
		return remoteError(identifier, StageDelete, err)
	}
	logger.Info("post cleaned")
	return Outcome{Kind: Success, Identifier: identifier}
}

func (cleaner *Cleaner) placeholder() Payload {
	return Payload{
		Text:      PlaceholderText,
		Via:       OriginMarker,
		CreatedAt: cleaner.now().Add(-Backdate).UTC().Format(TimestampLayout),
	}
}

func guarded[T any](call func() (T, error)) (result T, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("record store panicked: %v", recovered)
		}
	}()
	return call()
}
