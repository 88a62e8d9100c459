package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func SnapshotKey(jobID uuid.UUID) string {
	return fmt.Sprintf("scan:snapshot:%s", jobID)
}

func RateLimitKey(clientIP string) string {
	return fmt.Sprintf("ratelimit:%s", clientIP)
}
