// Package worker implements the background loops: the job queue runners, the
// monitor scheduler and the cleanup sweeper.
package worker

import "time"

// Clock abstracts time for due-selection and timestamping so loops are
// testable with a fake.
type Clock interface {
	Now() time.Time
}
