// Package failure defines the error taxonomy shared by every sendgrab component.
//
// Errors are classified by Kind rather than by concrete type. Callers dispatch
// with KindOf (or Is) and never inspect the wrapped cause's type to decide what
// to do next.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the run must react to it.
type Kind int

const (
	Unknown Kind = iota
	// Argument covers missing credentials and unusable flags. Raised before any network call.
	Argument
	// Authentication covers rejected credentials and an unreachable host.
	Authentication
	// LinkParse is raised for link-shaped text that is not a valid package link.
	LinkParse
	// PackageRetrieval covers unknown packages and failed metadata requests.
	PackageRetrieval
	// Preparation is the closed set of package preparation problems that trigger cleanup.
	Preparation
	// Transfer covers network, integrity and decryption failures while downloading.
	Transfer
	// Filesystem covers destination escapes, directory creation and move collisions.
	Filesystem
)

func (k Kind) String() string {
	switch k {
	case Argument:
		return "argument"
	case Authentication:
		return "authentication"
	case LinkParse:
		return "link_parse"
	case PackageRetrieval:
		return "package_retrieval"
	case Preparation:
		return "preparation"
	case Transfer:
		return "transfer"
	case Filesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// Common sentinel errors.
var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrNotFound           = errors.New("package not found")
	ErrInvalidLink        = errors.New("invalid package link")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrPathEscape         = errors.New("path escapes destination directory")
	ErrDestinationExists  = errors.New("destination already exists")
	ErrPathConflict       = errors.New("destination claimed by another file in this run")
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	// PackageID is set when the failure concerns a package already known to the service.
	PackageID string
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String() + " error"
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string. %w verbs are honoured.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithPackage returns a copy of e that carries packageID.
func (e *Error) WithPackage(packageID string) *Error {
	cp := *e
	cp.PackageID = packageID
	return &cp
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PackageIDOf returns the package id carried anywhere in err's chain.
func PackageIDOf(err error) string {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return ""
		}
		if fe.PackageID != "" {
			return fe.PackageID
		}
		err = fe.Err
	}
	return ""
}
