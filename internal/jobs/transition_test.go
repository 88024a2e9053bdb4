package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradiehub/internal/notify"
	"tradiehub/internal/participant"
)

func openJob() *JobOffer {
	return &JobOffer{ID: 7, Homeowner: participant.NewHomeowner(1), Title: "Fix roof", Status: JobOpen}
}

func pendingApps(n int) []*Application {
	apps := make([]*Application, n)
	for i := range apps {
		apps[i] = &Application{ID: int64(i + 1), JobOfferID: 7, Tradie: participant.NewTradie(int64(100 + i)), Status: ApplicationPending}
	}
	return apps
}

func TestPlanDecision_Reject(t *testing.T) {
	apps := pendingApps(2)
	plan, err := PlanDecision(openJob(), apps, 2, Reject)
	require.NoError(t, err)

	assert.Equal(t, []Change{{2, ApplicationPending, ApplicationRejected}}, plan.Changes)
	assert.Empty(t, plan.JobStatus)
	require.Len(t, plan.Notify, 1)
	assert.Equal(t, apps[1].Tradie, plan.Notify[0].To)
	assert.Equal(t, participant.NewHomeowner(1), plan.Notify[0].From)
	assert.Equal(t, notify.KindApplicationRejected, plan.Notify[0].Kind)
	assert.Equal(t, "Fix roof", plan.Notify[0].Data["job_title"])
}

func TestPlanDecision_AcceptCascades(t *testing.T) {
	apps := pendingApps(4)
	apps[3].Status = ApplicationWithdrawn

	plan, err := PlanDecision(openJob(), apps, 2, Accept)
	require.NoError(t, err)

	assert.Equal(t, []Change{
		{2, ApplicationPending, ApplicationAccepted},
		{1, ApplicationPending, ApplicationRejected},
		{3, ApplicationPending, ApplicationRejected},
	}, plan.Changes)
	assert.Equal(t, JobCompleted, plan.JobStatus)

	var notified []participant.Participant
	for _, n := range plan.Notify {
		notified = append(notified, n.To)
	}
	assert.Equal(t, []participant.Participant{apps[0].Tradie, apps[2].Tradie}, notified, "acceptance itself is silent")
	assert.Equal(t, []int64{1, 3}, plan.AutoRejected(2))
}

func TestPlanDecision_Refusals(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*JobOffer, []*Application)
		appID    int64
		decision Decision
		want     error
	}{
		{"bad decision", nil, 1, Decision("maybe"), ErrInvalidDecision},
		{"completed job", func(j *JobOffer, _ []*Application) { j.Status = JobCompleted }, 1, Reject, ErrJobAlreadyDecided},
		{"accepted sibling", func(_ *JobOffer, a []*Application) { a[1].Status = ApplicationAccepted }, 1, Accept, ErrJobAlreadyDecided},
		{"cancelled job", func(j *JobOffer, _ []*Application) { j.Status = JobCancelled }, 1, Accept, ErrJobNotOpen},
		{"expired job", func(j *JobOffer, _ []*Application) { j.Status = JobExpired }, 1, Reject, ErrJobNotOpen},
		{"unknown application", nil, 99, Accept, ErrApplicationNotFound},
		{"withdrawn target", func(_ *JobOffer, a []*Application) { a[0].Status = ApplicationWithdrawn }, 1, Accept, ErrApplicationNotPending},
		{"rejected target", func(_ *JobOffer, a []*Application) { a[0].Status = ApplicationRejected }, 1, Reject, ErrApplicationNotPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, apps := openJob(), pendingApps(2)
			if tt.mutate != nil {
				tt.mutate(job, apps)
			}
			_, err := PlanDecision(job, apps, tt.appID, tt.decision)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPlanCancel(t *testing.T) {
	plan, err := PlanCancel(openJob(), pendingApps(2))
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, plan.JobStatus)
	assert.Empty(t, plan.Changes)

	apps := pendingApps(2)
	apps[0].Status = ApplicationAccepted
	_, err = PlanCancel(openJob(), apps)
	assert.ErrorIs(t, err, ErrJobAlreadyDecided)

	job := openJob()
	job.Status = JobCancelled
	_, err = PlanCancel(job, nil)
	assert.ErrorIs(t, err, ErrJobNotOpen)
}
