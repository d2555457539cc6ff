package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Client.Get for unknown objects.
var ErrNotFound = errors.New("object not found")

// ConnectionError reports that the store could not be reached.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to vector store: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotReadyError reports that the store was reached but is not serving.
type NotReadyError struct {
	Endpoint string
}

func (e *NotReadyError) Error() string {
	if e.Endpoint == "" {
		return "connected to vector store, but the server is not ready"
	}
	return fmt.Sprintf("connected to vector store at %s, but the server is not ready", e.Endpoint)
}

// SchemaCreationError reports that the store rejected a collection
// definition.
type SchemaCreationError struct {
	Collection string
	Err        error
}

func (e *SchemaCreationError) Error() string {
	return fmt.Sprintf("error during schema creation for %q: %v", e.Collection, e.Err)
}

func (e *SchemaCreationError) Unwrap() error { return e.Err }
