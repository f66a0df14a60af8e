package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory CompanyStore for pipeline tests.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[ownerINN]*Company

	commits   int
	lookups   int
	commitErr error
	lookupErr error

	commitCtxErr error // ctx.Err() observed at the start of the last CommitBatch
}

type ownerINN struct {
	owner int64
	inn   int64
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[ownerINN]*Company)}
}

func (m *memStore) count(ownerID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.rows {
		if k.owner == ownerID {
			n++
		}
	}
	return n
}

func (m *memStore) FindByOwnerAndINN(ctx context.Context, ownerID, inn int64) (*Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	if c, ok := m.rows[ownerINN{ownerID, inn}]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) CommitBatch(ctx context.Context, ownerID int64, records []CanonicalRecord) ([]CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	m.commitCtxErr = ctx.Err()
	if m.commitErr != nil {
		return nil, m.commitErr
	}

	// Stage everything first so a failure leaves rows untouched.
	staged := make(map[ownerINN]*Company, len(records))
	results := make([]CommitResult, 0, len(records))
	nextID := m.nextID
	now := time.Now().UTC()

	for _, rec := range records {
		key := ownerINN{ownerID, rec.INN}
		prev, ok := staged[key]
		if !ok {
			prev = m.rows[key]
		}

		c := &Company{OwnerID: ownerID, CanonicalRecord: rec, UpdatedAt: now}
		created := prev == nil
		if created {
			nextID++
			c.ID = nextID
			c.CreatedAt = now
			c.ConfirmedAt = ConfirmedAtFor(rec.ConfirmationStatus, now)
		} else {
			c.ID = prev.ID
			c.CreatedAt = prev.CreatedAt
			c.ConfirmerIdentifier = prev.ConfirmerIdentifier
			c.ConfirmedAt = prev.ConfirmedAt
			if c.ConfirmedAt == nil {
				c.ConfirmedAt = ConfirmedAtFor(rec.ConfirmationStatus, now)
			} else if rec.ConfirmationStatus == StatusNotConfirmed {
				c.ConfirmedAt = nil
			}
		}
		staged[key] = c
		results = append(results, CommitResult{Company: *c, Created: created})
	}

	for k, c := range staged {
		m.rows[k] = c
	}
	m.nextID = nextID
	return results, nil
}

func (m *memStore) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]CompanySummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*Company
	for k, c := range m.rows {
		if k.owner == ownerID {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]CompanySummary, 0, end-offset)
	for _, c := range all[offset:end] {
		out = append(out, CompanySummary{ID: c.ID, INN: c.INN, Name: c.Name.String})
	}
	return out, total, nil
}

func (m *memStore) GetByID(ctx context.Context, ownerID, companyID int64) (*Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.rows {
		if k.owner == ownerID && c.ID == companyID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCompanyNotFound
}

func (m *memStore) UpdateCompany(ctx context.Context, ownerID, companyID int64, patch CompanyPatch) (*Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.rows {
		if k.owner == ownerID && c.ID == companyID {
			if patch.Name != nil {
				c.Name = CoerceText(*patch.Name)
			}
			if patch.ConfirmationStatus != nil {
				c.ConfirmationStatus = *patch.ConfirmationStatus
			}
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCompanyNotFound
}

func (m *memStore) ReplaceJSONData(ctx context.Context, ownerID, companyID int64, data RawRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.rows {
		if k.owner == ownerID && c.ID == companyID {
			c.JSONData = data
			return nil
		}
	}
	return ErrCompanyNotFound
}

func (m *memStore) DeleteCompany(ctx context.Context, ownerID, companyID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.rows {
		if k.owner == ownerID && c.ID == companyID {
			delete(m.rows, k)
			return nil
		}
	}
	return ErrCompanyNotFound
}
