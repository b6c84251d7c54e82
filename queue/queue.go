// Package queue defines the index/backup event transport: a small Queue
// contract and the one wire type that crosses it, StoreDataDetails.
// Concrete transport is out of scope; GoCloudQueue binds it to
// gocloud.dev/pubsub so the engine has a real, runnable implementation
// without committing to a broker.
package queue

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// StoreDataDetails is the event pushed to the index queue on every
// successful write and to the backup queue when requested. Reindex is a
// same-process convenience mirror of Metadata[store.KeyReindex] (set by
// SecureStore.ReIndexAll): it is json:"-" and does not survive a queue
// round-trip, so the authoritative wire signal is the Metadata key, which
// indexlistener reads and strips before handing the event to an indexer.
type StoreDataDetails struct {
	Container string            `json:"Container"`
	BasePath  string            `json:"BasePath"`
	Id        string            `json:"Id,omitempty"`
	Metadata  map[string]string `json:"Metadata,omitempty"`
	Reindex   bool              `json:"-"`
}

// Marshal encodes a StoreDataDetails as the wire-format JSON, omitting
// internal fields.
func (d StoreDataDetails) Marshal() ([]byte, error) {
	return jsonAPI.Marshal(d)
}

// UnmarshalStoreDataDetails decodes a wire-format message body.
func UnmarshalStoreDataDetails(body []byte) (StoreDataDetails, error) {
	var d StoreDataDetails
	err := jsonAPI.Unmarshal(body, &d)
	return d, err
}

// Handler processes one delivered message. Returning an error leaves the
// message unacked so the transport redelivers it (at-least-once).
type Handler func(ctx context.Context, d StoreDataDetails) error

// Queue is the transport-agnostic contract SecureStore and the index
// listener depend on.
type Queue interface {
	// SendMessage publishes one event. Errors here do not roll back the
	// write that triggered them; the caller only logs.
	SendMessage(ctx context.Context, d StoreDataDetails) error

	// ListenForNextMessage blocks, dispatching delivered messages to
	// handler one at a time, until ctx is canceled. Returning a non-nil
	// error from handler leaves the message unacked.
	ListenForNextMessage(ctx context.Context, handler Handler) error

	// CreateQueueIfNotExists is idempotent.
	CreateQueueIfNotExists(ctx context.Context) error

	// DeleteQueueIfExists is idempotent.
	DeleteQueueIfExists(ctx context.Context) error

	// Close releases the underlying topic/subscription handles.
	Close() error
}
