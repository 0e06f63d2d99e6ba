package jobs

import "errors"

var (
	ErrNotFound = errors.New("jobs: job not found")
)
