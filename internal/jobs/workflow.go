package jobs

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"tradiehub/internal/apperr"
	"tradiehub/internal/keylock"
	"tradiehub/internal/logger"
	"tradiehub/internal/metrics"
	"tradiehub/internal/participant"
	"tradiehub/internal/storage"
)

const (
	MaxPhotos            = 8
	MaxTitleLength       = 255
	MaxDescriptionLength = 300
	MaxAddressLength     = 255
	MaxCoverLetterLength = 5000
)

// Repository persists offers and applications. Transition runs plan against
// the job and its applications while both are locked, then applies the
// returned plan in the same transaction.
type Repository interface {
	CreateOffer(ctx context.Context, offer *JobOffer) error
	GetOffer(ctx context.Context, jobID int64) (*JobOffer, error)
	GetApplication(ctx context.Context, applicationID int64) (*Application, error)
	ListApplications(ctx context.Context, jobID int64) ([]*Application, error)
	// Apply inserts app while holding the job row; check runs on the locked job.
	// A second application by the same tradie yields ErrDuplicateApplication.
	Apply(ctx context.Context, app *Application, check func(*JobOffer) error) error
	Transition(ctx context.Context, jobID int64, plan func(*JobOffer, []*Application) (*Plan, error)) (*Plan, error)
	// UpdateApplicationStatus moves an application from one status to another
	// and reports whether it was still in from.
	UpdateApplicationStatus(ctx context.Context, applicationID int64, from, to ApplicationStatus) (bool, error)
}

// Notifier delivers workflow messages. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, from, to participant.Participant, kind string, data map[string]string)
}

type Workflow struct {
	repo              Repository
	notifier          Notifier
	blobs             storage.BlobStore
	locks             *keylock.Locker
	notifyConcurrency int
}

func NewWorkflow(repo Repository, notifier Notifier, blobs storage.BlobStore, locks *keylock.Locker, notifyConcurrency int) *Workflow {
	if notifyConcurrency <= 0 {
		notifyConcurrency = 4
	}
	return &Workflow{
		repo:              repo,
		notifier:          notifier,
		blobs:             blobs,
		locks:             locks,
		notifyConcurrency: notifyConcurrency,
	}
}

// Apply records a pending application by tradie for an open job.
func (w *Workflow) Apply(ctx context.Context, jobID int64, tradie participant.Participant, req *ApplyRequest) (*Application, error) {
	if tradie.Kind != participant.Tradie || tradie.Validate() != nil {
		return nil, fmt.Errorf("%w: only tradies can apply", apperr.ErrForbidden)
	}
	coverLetter := strings.TrimSpace(req.CoverLetter)
	if utf8.RuneCountInString(coverLetter) > MaxCoverLetterLength {
		return nil, fmt.Errorf("%w: cover letter exceeds %d characters", ErrInvalidApply, MaxCoverLetterLength)
	}
	if req.ProposedPrice != nil && *req.ProposedPrice < 0 {
		return nil, fmt.Errorf("%w: proposed price must not be negative", ErrInvalidApply)
	}

	app := &Application{
		JobOfferID:    jobID,
		Tradie:        tradie,
		Status:        ApplicationPending,
		CoverLetter:   coverLetter,
		ProposedPrice: roundPrice(req.ProposedPrice),
	}
	err := w.repo.Apply(ctx, app, func(job *JobOffer) error {
		if job.Status != JobOpen {
			return ErrJobNotOpen
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("application submitted", "job_id", jobID, "application_id", app.ID, "tradie", tradie.String())
	return app, nil
}

// Decide accepts or rejects an application on behalf of the job's owner.
// Decisions on one job are serialized; the loser of a race sees the
// winner's result as ErrJobAlreadyDecided. Notifications are sent only after
// the decision is committed and never undo it.
func (w *Workflow) Decide(ctx context.Context, homeowner participant.Participant, jobID, applicationID int64, decision Decision) (*DecisionResult, error) {
	if !decision.Valid() {
		return nil, ErrInvalidDecision
	}

	plan, target, status, err := w.commitDecision(ctx, homeowner, jobID, applicationID, decision)
	if err != nil {
		metrics.Decisions.WithLabelValues(string(decision), "refused").Inc()
		return nil, err
	}
	metrics.Decisions.WithLabelValues(string(decision), "committed").Inc()
	logger.Info("application decided", "job_id", jobID, "application_id", applicationID,
		"decision", string(decision), "job_status", string(status))

	w.dispatch(ctx, plan.Notify)

	return &DecisionResult{
		Application:  target,
		JobStatus:    status,
		AutoRejected: plan.AutoRejected(applicationID),
	}, nil
}

// commitDecision runs the decision transaction while holding the job's lock.
func (w *Workflow) commitDecision(ctx context.Context, homeowner participant.Participant, jobID, applicationID int64, decision Decision) (*Plan, *Application, JobStatus, error) {
	unlock, err := w.locks.Lock(ctx, "job:"+strconv.FormatInt(jobID, 10))
	if err != nil {
		return nil, nil, "", fmt.Errorf("lock job %d: %w", jobID, err)
	}
	defer unlock()

	var target *Application
	var status JobStatus
	plan, err := w.repo.Transition(ctx, jobID, func(job *JobOffer, apps []*Application) (*Plan, error) {
		if job.Homeowner != homeowner {
			return nil, ErrJobNotFound
		}
		p, err := PlanDecision(job, apps, applicationID, decision)
		if err != nil {
			return nil, err
		}
		for _, a := range apps {
			if a.ID == applicationID {
				cp := *a
				cp.Status = ApplicationStatus(decision)
				target = &cp
			}
		}
		status = job.Status
		if p.JobStatus != "" {
			status = p.JobStatus
		}
		return p, nil
	})
	if err != nil {
		return nil, nil, "", err
	}
	return plan, target, status, nil
}

func (w *Workflow) dispatch(ctx context.Context, cmds []NotifyCommand) {
	if w.notifier == nil || len(cmds) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(w.notifyConcurrency)
	for _, c := range cmds {
		g.Go(func() error {
			w.notifier.Notify(ctx, c.From, c.To, c.Kind, c.Data)
			return nil
		})
	}
	g.Wait()
}

// Withdraw lets a tradie pull back their own pending application.
func (w *Workflow) Withdraw(ctx context.Context, applicationID int64, tradie participant.Participant) (*Application, error) {
	app, err := w.repo.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Tradie != tradie {
		return nil, ErrApplicationNotFound
	}
	if app.Status != ApplicationPending {
		return nil, ErrApplicationNotPending
	}
	ok, err := w.repo.UpdateApplicationStatus(ctx, applicationID, ApplicationPending, ApplicationWithdrawn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrApplicationNotPending
	}
	app.Status = ApplicationWithdrawn
	logger.Info("application withdrawn", "job_id", app.JobOfferID, "application_id", applicationID)
	return app, nil
}

// CreateOffer validates and stores a new open job, uploading its photos first.
func (w *Workflow) CreateOffer(ctx context.Context, homeowner participant.Participant, req *CreateOfferRequest) (*JobOffer, error) {
	if homeowner.Kind != participant.Homeowner || homeowner.Validate() != nil {
		return nil, fmt.Errorf("%w: only homeowners can post jobs", apperr.ErrForbidden)
	}
	offer, err := validateOffer(req)
	if err != nil {
		return nil, err
	}
	offer.Homeowner = homeowner

	images := make([]dataImage, 0, len(req.Photos))
	for i, p := range req.Photos {
		img, err := parseDataImage(p)
		if err != nil {
			return nil, fmt.Errorf("%w: photo %d: %v", ErrInvalidOffer, i, err)
		}
		images = append(images, img)
	}
	for _, img := range images {
		path, err := w.blobs.Store(ctx, img.data, img.contentType)
		if err != nil {
			return nil, fmt.Errorf("store photo: %w", err)
		}
		offer.Photos = append(offer.Photos, Photo{FilePath: path, FileSize: len(img.data)})
	}

	if err := w.repo.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}
	logger.Info("job offer created", "job_id", offer.ID, "homeowner", homeowner.String(), "photos", len(offer.Photos))
	return offer, nil
}

func (w *Workflow) GetOffer(ctx context.Context, jobID int64) (*JobOffer, error) {
	return w.repo.GetOffer(ctx, jobID)
}

// ListApplications returns the applications of a job its owner asks about.
func (w *Workflow) ListApplications(ctx context.Context, homeowner participant.Participant, jobID int64) ([]*Application, error) {
	job, err := w.repo.GetOffer(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Homeowner != homeowner {
		return nil, ErrJobNotFound
	}
	return w.repo.ListApplications(ctx, jobID)
}

// CancelOffer closes a job that has not been awarded yet.
func (w *Workflow) CancelOffer(ctx context.Context, homeowner participant.Participant, jobID int64) error {
	unlock, err := w.locks.Lock(ctx, "job:"+strconv.FormatInt(jobID, 10))
	if err != nil {
		return fmt.Errorf("lock job %d: %w", jobID, err)
	}
	defer unlock()

	_, err = w.repo.Transition(ctx, jobID, func(job *JobOffer, apps []*Application) (*Plan, error) {
		if job.Homeowner != homeowner {
			return nil, ErrJobNotFound
		}
		return PlanCancel(job, apps)
	})
	if err != nil {
		return err
	}
	logger.Info("job offer cancelled", "job_id", jobID)
	return nil
}

func validateOffer(req *CreateOfferRequest) (*JobOffer, error) {
	title := strings.TrimSpace(req.Title)
	address := strings.TrimSpace(req.Address)
	switch {
	case req.ServiceCategoryID <= 0:
		return nil, fmt.Errorf("%w: service_category_id is required", ErrInvalidOffer)
	case title == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidOffer)
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return nil, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidOffer, MaxTitleLength)
	case utf8.RuneCountInString(req.Description) > MaxDescriptionLength:
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrInvalidOffer, MaxDescriptionLength)
	case address == "":
		return nil, fmt.Errorf("%w: address is required", ErrInvalidOffer)
	case utf8.RuneCountInString(address) > MaxAddressLength:
		return nil, fmt.Errorf("%w: address exceeds %d characters", ErrInvalidOffer, MaxAddressLength)
	case len(req.Photos) > MaxPhotos:
		return nil, ErrTooManyPhotos
	}

	switch req.JobType {
	case JobStandard, JobUrgent, JobRecurrent:
	default:
		return nil, fmt.Errorf("%w: job_type must be standard, urgent or recurrent", ErrInvalidOffer)
	}
	switch req.JobSize {
	case JobSmall, JobMedium, JobLarge:
	default:
		return nil, fmt.Errorf("%w: job_size must be small, medium or large", ErrInvalidOffer)
	}

	freq := strings.ToLower(strings.TrimSpace(req.Frequency))
	if req.JobType == JobRecurrent && freq == "" {
		return nil, fmt.Errorf("%w: frequency is required for recurrent jobs", ErrInvalidOffer)
	}
	if freq != "" && !frequencies[freq] {
		return nil, fmt.Errorf("%w: unknown frequency %q", ErrInvalidOffer, req.Frequency)
	}

	return &JobOffer{
		ServiceCategoryID: req.ServiceCategoryID,
		Title:             title,
		Description:       req.Description,
		JobType:           req.JobType,
		JobSize:           req.JobSize,
		Frequency:         freq,
		Address:           address,
		Status:            JobOpen,
	}, nil
}

var dataURLPattern = regexp.MustCompile(`^data:image/([a-zA-Z0-9.+-]+);base64,`)

type dataImage struct {
	contentType string
	data        []byte
}

func parseDataImage(s string) (dataImage, error) {
	m := dataURLPattern.FindStringSubmatch(s)
	if m == nil {
		return dataImage{}, fmt.Errorf("not a base64 image data URL")
	}
	data, err := base64.StdEncoding.DecodeString(s[len(m[0]):])
	if err != nil {
		return dataImage{}, fmt.Errorf("invalid base64: %w", err)
	}
	if len(data) == 0 {
		return dataImage{}, fmt.Errorf("empty image")
	}
	return dataImage{contentType: "image/" + strings.ToLower(m[1]), data: data}, nil
}
