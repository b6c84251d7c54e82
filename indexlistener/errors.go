package indexlistener

import "fmt"

// ConfigurationError is raised by RegisterType/RegisterPath against a
// duplicate key, and is a construction-time error: it never reaches the
// running scheduler.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("indexlistener: configuration error for %q: %s", e.Key, e.Reason)
}

// DispatchError is raised when neither a type nor a path indexer matches
// an event. The batch is left unacknowledged and the transport is
// expected to redeliver it.
type DispatchError struct {
	Container string
	BasePath  string
	Reason    string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("indexlistener: no indexer for %s:%s: %s", e.Container, e.BasePath, e.Reason)
}
