package jobs

import (
	"math"
	"time"

	"tradiehub/internal/participant"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobOpen       JobStatus = "open"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
	JobExpired    JobStatus = "expired"
)

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationAccepted  ApplicationStatus = "accepted"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
)

type Decision string

const (
	Accept Decision = "accepted"
	Reject Decision = "rejected"
)

func (d Decision) Valid() bool { return d == Accept || d == Reject }

type JobType string

const (
	JobStandard  JobType = "standard"
	JobUrgent    JobType = "urgent"
	JobRecurrent JobType = "recurrent"
)

type JobSize string

const (
	JobSmall  JobSize = "small"
	JobMedium JobSize = "medium"
	JobLarge  JobSize = "large"
)

var frequencies = map[string]bool{
	"daily": true, "weekly": true, "monthly": true,
	"quarterly": true, "yearly": true, "custom": true,
}

type Photo struct {
	ID       int64  `json:"id"`
	FilePath string `json:"file_path"`
	FileSize int    `json:"file_size"`
}

type JobOffer struct {
	ID                int64                   `json:"id"`
	Homeowner         participant.Participant `json:"homeowner"`
	ServiceCategoryID int64                   `json:"service_category_id"`
	Title             string                  `json:"title"`
	Description       string                  `json:"description,omitempty"`
	JobType           JobType                 `json:"job_type"`
	JobSize           JobSize                 `json:"job_size"`
	Frequency         string                  `json:"frequency,omitempty"`
	Address           string                  `json:"address"`
	Status            JobStatus               `json:"status"`
	Photos            []Photo                 `json:"photos"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

type Application struct {
	ID            int64                   `json:"id"`
	JobOfferID    int64                   `json:"job_offer_id"`
	Tradie        participant.Participant `json:"tradie"`
	Status        ApplicationStatus       `json:"status"`
	CoverLetter   string                  `json:"cover_letter,omitempty"`
	ProposedPrice *float64                `json:"proposed_price,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// roundPrice keeps two decimals, matching the NUMERIC(10,2) column.
func roundPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := math.Round(*p*100) / 100
	return &v
}

// ---------------------------------------------
// 📨 Inbound DTOs
// ---------------------------------------------

type CreateOfferRequest struct {
	ServiceCategoryID int64    `json:"service_category_id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	JobType           JobType  `json:"job_type"`
	JobSize           JobSize  `json:"job_size"`
	Frequency         string   `json:"frequency"`
	Address           string   `json:"address"`
	Photos            []string `json:"photos"` // data URLs: data:image/<ext>;base64,...
}

type ApplyRequest struct {
	CoverLetter   string   `json:"cover_letter"`
	ProposedPrice *float64 `json:"proposed_price"`
}

type DecideRequest struct {
	Status Decision `json:"status"`
}

// DecisionResult reports the outcome of a committed decision.
type DecisionResult struct {
	Application  *Application `json:"application"`
	JobStatus    JobStatus    `json:"job_status"`
	AutoRejected []int64      `json:"auto_rejected,omitempty"`
}
