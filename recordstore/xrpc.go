package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/xrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orthanc/postcleaner/cleaner"
)

var ErrNotFound = cleaner.ErrNotFound

var tracer = otel.Tracer("github.com/orthanc/postcleaner/recordstore")

// ClientSource hands out the authenticated client to use for the next call.
// Sessions refresh their tokens in the background so the store never keeps
// a client of its own.
type ClientSource interface {
	Client() *xrpc.Client
}

type XRPCStore struct {
	clients ClientSource
}

func NewXRPCStore(clients ClientSource) *XRPCStore {
	return &XRPCStore{clients: clients}
}

type getRecordOutput struct {
	Uri string  `json:"uri"`
	Cid *string `json:"cid,omitempty"`
}

type putRecordInput struct {
	Repo       string          `json:"repo"`
	Collection string          `json:"collection"`
	Rkey       string          `json:"rkey"`
	Validate   bool            `json:"validate"`
	Record     postPlaceholder `json:"record"`
	SwapRecord *string         `json:"swapRecord,omitempty"`
}

type postPlaceholder struct {
	LexiconTypeID string `json:"$type"`
	cleaner.Payload
}

type deleteRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Rkey       string `json:"rkey"`
}

func (store *XRPCStore) GetRecord(ctx context.Context, repo string, collection string, rkey string) (string, error) {
	ctx, span := startSpan(ctx, "recordstore.GetRecord", repo, collection, rkey)
	var out getRecordOutput
	err := store.clients.Client().Do(ctx, xrpc.Query, "", "com.atproto.repo.getRecord", map[string]any{
		"repo":       repo,
		"collection": collection,
		"rkey":       rkey,
	}, nil, &out)
	err = classify("getRecord", err)
	endSpan(span, err)
	if err != nil {
		return "", err
	}
	if out.Cid == nil {
		return "", nil
	}
	return *out.Cid, nil
}

func (store *XRPCStore) PutRecord(ctx context.Context, repo string, collection string, rkey string, payload cleaner.Payload, swapCID string) (string, error) {
	ctx, span := startSpan(ctx, "recordstore.PutRecord", repo, collection, rkey)
	input := putRecordInput{
		Repo:       repo,
		Collection: collection,
		Rkey:       rkey,
		// the placeholder carries a "via" field the post lexicon does not define
		Validate: false,
		Record: postPlaceholder{
			LexiconTypeID: collection,
			Payload:       payload,
		},
	}
	if swapCID != "" {
		input.SwapRecord = &swapCID
	}
	var out atproto.RepoPutRecord_Output
	err := store.clients.Client().Do(ctx, xrpc.Procedure, "application/json", "com.atproto.repo.putRecord", nil, input, &out)
	err = classify("putRecord", err)
	endSpan(span, err)
	if err != nil {
		return "", err
	}
	return out.Cid, nil
}

func (store *XRPCStore) DeleteRecord(ctx context.Context, repo string, collection string, rkey string) error {
	ctx, span := startSpan(ctx, "recordstore.DeleteRecord", repo, collection, rkey)
	input := deleteRecordInput{
		Repo:       repo,
		Collection: collection,
		Rkey:       rkey,
	}
	err := store.clients.Client().Do(ctx, xrpc.Procedure, "application/json", "com.atproto.repo.deleteRecord", nil, input, nil)
	err = classify("deleteRecord", err)
	endSpan(span, err)
	return err
}

func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%s: %w: %w", method, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

func isNotFound(err error) bool {
	var xrpcErr *xrpc.Error
	if !errors.As(err, &xrpcErr) {
		return false
	}
	inner, ok := xrpcErr.Wrapped.(*xrpc.XRPCError)
	return ok && inner.ErrStr == "RecordNotFound"
}

func startSpan(ctx context.Context, name string, repo string, collection string, rkey string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("atproto.repo", repo),
		attribute.String("atproto.collection", collection),
		attribute.String("atproto.rkey", rkey),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
