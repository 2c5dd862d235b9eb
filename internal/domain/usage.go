package domain

import "time"

// Usage summarizes the work one job did. It rides along with the
// job.completed webhook; nothing persists it.
type Usage struct {
	JobID           string    `json:"job_id"`
	Operation       string    `json:"operation"`
	PixelsProcessed int64     `json:"pixels_processed"`
	BytesIn         int64     `json:"bytes_in"`
	BytesOut        int64     `json:"bytes_out"`
	ComputeTimeMS   int64     `json:"compute_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// BytesSaved is negative when the result is larger than its source.
func (u Usage) BytesSaved() int64 {
	return u.BytesIn - u.BytesOut
}
