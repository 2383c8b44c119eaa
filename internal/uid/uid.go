// Package uid provides unique identifier generation for Galleria.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32-character hex string suitable for temp file names and
// request IDs. It is a random (version 4) UUID with the dashes removed.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
