package store

// JobStatus is the lifecycle state of an asynchronous query.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusFinished JobStatus = "finished"
	JobStatusError    JobStatus = "error"

	// JobStatusExecuted marks the best-effort audit rows written by the SQL
	// executor for mutating statements. They share the queries table with jobs.
	JobStatusExecuted JobStatus = "executed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusError
}

// Job is one row of the queries table.
type Job struct {
	ID     string    `json:"query_id"`
	Status JobStatus `json:"status"`
	Result string    `json:"result"` // JSON response when finished, message when error
}
