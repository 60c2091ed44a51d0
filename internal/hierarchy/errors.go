package hierarchy

import "github.com/cockroachdb/errors"

// Kind classifies an error returned by a forest operation.
type Kind int

const (
	KindUnknown Kind = iota
	KindNodeNotFound
	KindAssignmentExists
	KindAssignmentNotFound
	KindSelfAttach
	KindAlreadyAttached
	KindInvalidTarget
	KindInvalidArgument
	KindStoreFailure
	KindInvariantViolation
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindNodeNotFound:       "node-not-found",
	KindAssignmentExists:   "entity-already-assigned-property-here",
	KindAssignmentNotFound: "no-such-property-for-entity-here",
	KindSelfAttach:         "cannot-attach-to-self",
	KindAlreadyAttached:    "current-node-already-attached",
	KindInvalidTarget:      "invalid-target",
	KindInvalidArgument:    "invalid-argument",
	KindStoreFailure:       "store-failure",
	KindInvariantViolation: "invariant-violation",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// Precondition violations. Operations return these wrapped, before any write.
var (
	ErrNodeNotFound       = errors.New("node not found")
	ErrAssignmentExists   = errors.New("entity already assigned property here")
	ErrAssignmentNotFound = errors.New("no such property for entity here")
	ErrSelfAttach         = errors.New("cannot attach node to itself")
	ErrAlreadyAttached    = errors.New("node already attached")
	ErrInvalidTarget      = errors.New("invalid attach target")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// ErrStore marks failures of the backing store.
var ErrStore = errors.New("store failure")

// StoreError marks err as a store failure. Nil stays nil.
func StoreError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrStore)
}

// KindOf classifies err. Assertion failures raised while walking the index
// report KindInvariantViolation.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.HasAssertionFailure(err):
		return KindInvariantViolation
	case errors.Is(err, ErrNodeNotFound):
		return KindNodeNotFound
	case errors.Is(err, ErrAssignmentExists):
		return KindAssignmentExists
	case errors.Is(err, ErrAssignmentNotFound):
		return KindAssignmentNotFound
	case errors.Is(err, ErrSelfAttach):
		return KindSelfAttach
	case errors.Is(err, ErrAlreadyAttached):
		return KindAlreadyAttached
	case errors.Is(err, ErrInvalidTarget):
		return KindInvalidTarget
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrStore):
		return KindStoreFailure
	}
	return KindUnknown
}
