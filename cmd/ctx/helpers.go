package main

import (
	"time"

	"github.com/google/uuid"
)

func newSnapshotID() string {
	return uuid.NewString()
}

func snapshotCreatedAt() time.Time {
	return time.Now().UTC()
}
