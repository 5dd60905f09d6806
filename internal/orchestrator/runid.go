package orchestrator

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRunID builds a filesystem-safe run identifier: the UTC start
// timestamp with colons replaced by dashes, plus a short random
// suffix so back-to-back runs never collide.
func NewRunID(now time.Time) string {
	stamp := strings.ReplaceAll(now.UTC().Format(time.RFC3339), ":", "-")
	return stamp + "-" + uuid.NewString()[:8]
}
