package jobs

import (
	"strconv"

	"tradiehub/internal/notify"
	"tradiehub/internal/participant"
)

// Change moves one application from one status to another. Repositories
// apply it conditionally on From.
type Change struct {
	ApplicationID int64
	From          ApplicationStatus
	To            ApplicationStatus
}

// NotifyCommand is a message to send once the plan has been committed.
type NotifyCommand struct {
	From participant.Participant
	To   participant.Participant
	Kind string
	Data map[string]string
}

// Plan is the full effect of one transition. JobStatus is empty when the job
// keeps its status.
type Plan struct {
	Changes   []Change
	JobStatus JobStatus
	Notify    []NotifyCommand
}

func decided(job *JobOffer, apps []*Application) bool {
	if job.Status == JobCompleted {
		return true
	}
	for _, a := range apps {
		if a.Status == ApplicationAccepted {
			return true
		}
	}
	return false
}

func rejection(job *JobOffer, app *Application) NotifyCommand {
	return NotifyCommand{
		From: job.Homeowner,
		To:   app.Tradie,
		Kind: notify.KindApplicationRejected,
		Data: map[string]string{
			"job_title":      job.Title,
			"job_id":         strconv.FormatInt(job.ID, 10),
			"application_id": strconv.FormatInt(app.ID, 10),
		},
	}
}

// PlanDecision computes what accepting or rejecting applicationID does to the
// job and its applications. It performs no I/O.
//
// Rejecting notifies the applicant. Accepting rejects every other pending
// application, notifies each of them, and completes the job; the accepted
// tradie is not notified.
func PlanDecision(job *JobOffer, apps []*Application, applicationID int64, decision Decision) (*Plan, error) {
	if !decision.Valid() {
		return nil, ErrInvalidDecision
	}
	if decided(job, apps) {
		return nil, ErrJobAlreadyDecided
	}
	if job.Status != JobOpen {
		return nil, ErrJobNotOpen
	}

	var target *Application
	for _, a := range apps {
		if a.ID == applicationID {
			target = a
			break
		}
	}
	if target == nil {
		return nil, ErrApplicationNotFound
	}
	if target.Status != ApplicationPending {
		return nil, ErrApplicationNotPending
	}

	plan := &Plan{}
	if decision == Reject {
		plan.Changes = append(plan.Changes, Change{target.ID, ApplicationPending, ApplicationRejected})
		plan.Notify = append(plan.Notify, rejection(job, target))
		return plan, nil
	}

	plan.Changes = append(plan.Changes, Change{target.ID, ApplicationPending, ApplicationAccepted})
	for _, a := range apps {
		if a.ID == target.ID || a.Status != ApplicationPending {
			continue
		}
		plan.Changes = append(plan.Changes, Change{a.ID, ApplicationPending, ApplicationRejected})
		plan.Notify = append(plan.Notify, rejection(job, a))
	}
	plan.JobStatus = JobCompleted
	return plan, nil
}

// PlanCancel cancels a job that has no accepted application yet.
func PlanCancel(job *JobOffer, apps []*Application) (*Plan, error) {
	if decided(job, apps) {
		return nil, ErrJobAlreadyDecided
	}
	if job.Status != JobOpen && job.Status != JobPending {
		return nil, ErrJobNotOpen
	}
	return &Plan{JobStatus: JobCancelled}, nil
}

// AutoRejected lists the applications a plan rejects besides target.
func (p *Plan) AutoRejected(target int64) []int64 {
	var ids []int64
	for _, c := range p.Changes {
		if c.ApplicationID != target && c.To == ApplicationRejected {
			ids = append(ids, c.ApplicationID)
		}
	}
	return ids
}
