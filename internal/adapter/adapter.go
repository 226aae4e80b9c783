// Package adapter turns vendor transcript stores into canonical sessions.
//
// Each source system implements Adapter: Discover lists candidate units in a
// deterministic order, Peek reads just enough to identify one, and Parse
// produces the full model.Session.
package adapter

import (
	"errors"
	"fmt"

	"convx/internal/model"
)

var (
	// ErrCannotIdentify is returned by Peek when a unit is unreadable or
	// carries no usable identity.
	ErrCannotIdentify = errors.New("cannot identify session")
	// ErrUnknownSource is returned by New for an unsupported source name.
	ErrUnknownSource = errors.New("unknown source system")
)

// Handle identifies one discovered unit. It is either a FileHandle or a
// RecordHandle.
type Handle interface {
	fmt.Stringer
	isHandle()
}

// FileHandle is a transcript that lives in its own file.
type FileHandle struct {
	Path string
}

func (h FileHandle) String() string { return h.Path }
func (FileHandle) isHandle()        {}

// RecordHandle is a transcript stored as a record inside a database. It
// carries the decoded record together with the metadata gathered during
// discovery.
type RecordHandle struct {
	Store       string
	Kind        string
	ID          string
	Cwd         string
	StartedAt   string
	Fingerprint string
	Record      map[string]any
}

func (h RecordHandle) String() string { return h.Store + "::" + h.Kind + "::" + h.ID }
func (RecordHandle) isHandle()        {}

// Identity is the cheap, pre-parse view of a unit.
type Identity struct {
	SessionID  string
	SessionKey string
	StartedAt  string
	Cwd        string
	Summary    string
	// Fingerprint is empty when the engine should hash the file itself.
	Fingerprint string
}

type DiscoverOptions struct {
	// RepoFilter, when set, lets adapters drop units that clearly belong to
	// another repository before they are peeked.
	RepoFilter string
}

type ParseOptions struct {
	User       string
	SystemName string
}

type Adapter interface {
	Name() string
	Discover(root string, opts DiscoverOptions) ([]Handle, error)
	Peek(h Handle) (Identity, error)
	Parse(h Handle, opts ParseOptions) (*model.Session, error)
}

func cannotIdentify(h Handle, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrCannotIdentify, h, reason)
}
