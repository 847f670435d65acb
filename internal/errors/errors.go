package errors

import "fmt"

// ErrInvalidRepoRef is returned when an extracted upstream URL does not
// carry an 'owner/repo' path.
type ErrInvalidRepoRef struct {
	Ref string
}

func (e *ErrInvalidRepoRef) Error() string {
	return fmt.Sprintf("invalid repository reference: %q, expected a github.com/<owner>/<repo> URL", e.Ref)
}
