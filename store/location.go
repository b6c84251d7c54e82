// Package store holds the addressing and metadata model shared by every
// layer of Leo: the backend adapters, the secure store, the index listener
// and the partition facades all speak in terms of Location and Metadata.
package store

// Location addresses a single logical blob: a container (namespace) and a
// forward-slash delimited path within it. Equality is case-sensitive,
// byte-wise.
type Location struct {
	Container string
	BasePath  string
}

// NewLocation builds a Location from a container and a path.
func NewLocation(container, basePath string) Location {
	return Location{Container: container, BasePath: basePath}
}

// String renders the location the way log fields and wrapped errors do:
// "container:basePath".
func (l Location) String() string {
	return l.Container + ":" + l.BasePath
}
