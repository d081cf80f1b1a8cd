package persistence

import (
	"fmt"
	"regexp"
)

// WorldIDPattern is the canonical world identifier: 1-32 chars of lowercase letters, digits and hyphens.
var WorldIDPattern = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)

var worldIDStrip = regexp.MustCompile(`[^a-z0-9-]`)

// ValidateWorldID reports whether id is usable as a world identifier, directory name and host label.
func ValidateWorldID(id string) error {
	if !WorldIDPattern.MatchString(id) {
		return fmt.Errorf("invalid world id %q: must match %s", id, WorldIDPattern.String())
	}
	return nil
}

// StripWorldID removes every character outside [a-z0-9-]. Used for lookups where a
// loosely typed id is accepted and silently cleaned.
func StripWorldID(input string) string {
	return worldIDStrip.ReplaceAllString(input, "")
}
