package models

import "time"

// JobStatus is the lifecycle state of a scraping job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// SourceResult is the per-source outcome rolled into a job record.
type SourceResult struct {
	Source          string `bson:"source" json:"source"`
	ListingsScraped int    `bson:"listingsScraped" json:"listingsScraped"`
	Errors          int    `bson:"errors" json:"errors"`
	DurationMillis  int64  `bson:"durationMs" json:"durationMs"`
}

// ScrapingJob is one record per orchestrator run. A job id is never reused;
// the terminal status is written exactly once.
type ScrapingJob struct {
	JobID   string    `bson:"jobId" json:"jobId"`
	Status  JobStatus `bson:"status" json:"status"`
	Sources []string  `bson:"sources" json:"sources"`

	StartTime time.Time  `bson:"startTime" json:"startTime"`
	EndTime   *time.Time `bson:"endTime,omitempty" json:"endTime,omitempty"`

	TotalListingsScraped int `bson:"totalListingsScraped" json:"totalListingsScraped"`
	NewListingsAdded     int `bson:"newListingsAdded" json:"newListingsAdded"`
	DuplicatesDetected   int `bson:"duplicatesDetected" json:"duplicatesDetected"`
	ErrorsEncountered    int `bson:"errorsEncountered" json:"errorsEncountered"`

	SourceResults []SourceResult `bson:"sourceResults" json:"sourceResults"`
}

// NewScrapingJob creates a pending job record for the given sources.
func NewScrapingJob(jobID string, sources []string, start time.Time) *ScrapingJob {
	return &ScrapingJob{
		JobID:     jobID,
		Status:    JobStatusPending,
		Sources:   sources,
		StartTime: start,
	}
}

// ScrapeMetrics is one aggregate entry in the metrics time series, written
// once per run for trend analysis.
type ScrapeMetrics struct {
	JobID     string    `bson:"jobId" json:"jobId"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`

	TotalListingsScraped int `bson:"totalListingsScraped" json:"totalListingsScraped"`
	NewListingsAdded     int `bson:"newListingsAdded" json:"newListingsAdded"`
	DuplicatesDetected   int `bson:"duplicatesDetected" json:"duplicatesDetected"`
	ErrorsEncountered    int `bson:"errorsEncountered" json:"errorsEncountered"`

	DurationMillis int64          `bson:"durationMs" json:"durationMs"`
	SourceResults  []SourceResult `bson:"sourceResults" json:"sourceResults"`
}
