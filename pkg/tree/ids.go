package tree

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sanitizeForID keeps only filename characters that are safe inside an id.
func sanitizeForID(name string) string {
	var builder strings.Builder
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '-' || r == '_' || r == '.' {
			builder.WriteRune(r)
		}
	}
	if builder.Len() == 0 {
		return "x"
	}
	return builder.String()
}

// GenFileID generates a new stable file id derived from a file name.
func GenFileID(name string) string {
	return fmt.Sprintf("%s-%s-%s",
		sanitizeForID(name),
		time.Now().UTC().Format("20060102150405"),
		uuid.NewString()[:8])
}

// GenRootID generates a file id for a new tree root.
func GenRootID() string {
	return GenFileID("tree_root")
}

// GenRevisionID generates a new revision id attributed to a committer.
func GenRevisionID(committer string) string {
	return fmt.Sprintf("%s-%s-%s",
		sanitizeForID(committer),
		time.Now().UTC().Format("20060102150405"),
		uuid.NewString()[:8])
}
