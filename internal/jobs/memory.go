package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps offers and applications in memory. Used in --memory
// mode and tests. One mutex stands in for the row locks.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	offers map[int64]*JobOffer
	apps   map[int64]*Application
	now    func() time.Time
	// Fail, when set, is consulted before every call with the method name.
	Fail func(method string) error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		offers: make(map[int64]*JobOffer),
		apps:   make(map[int64]*Application),
		now:    time.Now,
	}
}

func (m *MemoryRepository) fail(method string) error {
	if m.Fail != nil {
		return m.Fail(method)
	}
	return nil
}

func (m *MemoryRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryRepository) CreateOffer(ctx context.Context, offer *JobOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateOffer"); err != nil {
		return err
	}
	offer.ID = m.id()
	for i := range offer.Photos {
		offer.Photos[i].ID = m.id()
	}
	offer.CreatedAt = m.now()
	offer.UpdatedAt = offer.CreatedAt
	cp := *offer
	cp.Photos = append([]Photo(nil), offer.Photos...)
	m.offers[offer.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetOffer(ctx context.Context, jobID int64) (*JobOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetOffer"); err != nil {
		return nil, err
	}
	o, ok := m.offers[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *o
	cp.Photos = append([]Photo(nil), o.Photos...)
	return &cp, nil
}

func (m *MemoryRepository) GetApplication(ctx context.Context, applicationID int64) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetApplication"); err != nil {
		return nil, err
	}
	a, ok := m.apps[applicationID]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) ListApplications(ctx context.Context, jobID int64) ([]*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListApplications"); err != nil {
		return nil, err
	}
	return m.list(jobID), nil
}

func (m *MemoryRepository) list(jobID int64) []*Application {
	var out []*Application
	for _, a := range m.apps {
		if a.JobOfferID == jobID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryRepository) Apply(ctx context.Context, app *Application, check func(*JobOffer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Apply"); err != nil {
		return err
	}
	o, ok := m.offers[app.JobOfferID]
	if !ok {
		return ErrJobNotFound
	}
	cp := *o
	if err := check(&cp); err != nil {
		return err
	}
	for _, a := range m.apps {
		if a.JobOfferID == app.JobOfferID && a.Tradie == app.Tradie {
			return ErrDuplicateApplication
		}
	}
	app.ID = m.id()
	app.CreatedAt = m.now()
	app.UpdatedAt = app.CreatedAt
	stored := *app
	m.apps[app.ID] = &stored
	return nil
}

func (m *MemoryRepository) Transition(ctx context.Context, jobID int64, plan func(*JobOffer, []*Application) (*Plan, error)) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Transition"); err != nil {
		return nil, err
	}
	o, ok := m.offers[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *o
	p, err := plan(&cp, m.list(jobID))
	if err != nil {
		return nil, err
	}

	for _, c := range p.Changes {
		if a := m.apps[c.ApplicationID]; a == nil || a.Status != c.From {
			return nil, ErrApplicationNotPending
		}
	}
	now := m.now()
	for _, c := range p.Changes {
		a := m.apps[c.ApplicationID]
		a.Status = c.To
		a.UpdatedAt = now
	}
	if p.JobStatus != "" {
		o.Status = p.JobStatus
		o.UpdatedAt = now
	}
	return p, nil
}

func (m *MemoryRepository) UpdateApplicationStatus(ctx context.Context, applicationID int64, from, to ApplicationStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateApplicationStatus"); err != nil {
		return false, err
	}
	a, ok := m.apps[applicationID]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = m.now()
	return true, nil
}

// SetJobStatus forces a job's status, for seeding.
func (m *MemoryRepository) SetJobStatus(jobID int64, status JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.offers[jobID]; ok {
		o.Status = status
	}
}
