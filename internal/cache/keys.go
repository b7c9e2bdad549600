package cache

import "fmt"

// ArtifactKey caches one artifact payload for one credential scope.
// Artifacts are immutable once their job has completed.
func ArtifactKey(scope, artifactID string) string {
	return fmt.Sprintf("artifact:%s:%s", scope, artifactID)
}

// JobStatusKey holds the last status observed for a job by any view.
func JobStatusKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RateLimitKey counts requests from one credential within the window that
// starts at windowStart (unix seconds).
func RateLimitKey(keyPrefix string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", keyPrefix, windowStart)
}
