// Package storetest holds the behavioral suite every core.CompanyStore
// backend must pass. Backends run it from their own tests with Run.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// Factory returns an empty, migrated store. It is called once per test.
type Factory func(t *testing.T) core.CompanyStore

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	suite.Run(t, &StoreSuite{newStore: newStore})
}

// StoreSuite checks the CompanyStore contract.
type StoreSuite struct {
	suite.Suite
	newStore Factory
	store    core.CompanyStore
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
}

func text(v string) pgtype.Text { return pgtype.Text{String: v, Valid: true} }

func record(inn int64, name string) core.CanonicalRecord {
	return core.CanonicalRecord{
		INN:                inn,
		Name:               text(name),
		MainIndustry:       text("Строительство"),
		SupportMeasures:    pgtype.Bool{Bool: true, Valid: true},
		ConfirmationStatus: core.StatusNotConfirmed,
		JSONData: core.RawRow{
			Headers: []string{"ИНН", "Наименование организации", "Примечание"},
			Values:  []string{"7707083893", name, `ООО "Ромашка" <главный офис>`},
		},
	}
}

func (s *StoreSuite) commit(owner int64, recs ...core.CanonicalRecord) []core.CommitResult {
	res, err := s.store.CommitBatch(s.ctx, owner, recs)
	s.Require().NoError(err)
	s.Require().Len(res, len(recs))
	return res
}

// ============================================================================
// Lookup and commit
// ============================================================================

func (s *StoreSuite) TestFindMissingReturnsNil() {
	c, err := s.store.FindByOwnerAndINN(s.ctx, 1, 7707083893)
	s.Require().NoError(err)
	s.Nil(c)
}

func (s *StoreSuite) TestCommitCreatesThenUpdates() {
	first := s.commit(1, record(7707083893, "ООО Ромашка"))
	s.True(first[0].Created)
	s.NotZero(first[0].Company.ID)
	s.Equal(int64(1), first[0].Company.OwnerID)
	s.Equal("ООО Ромашка", first[0].Company.Name.String)
	s.Nil(first[0].Company.ConfirmedAt)

	time.Sleep(10 * time.Millisecond)

	upd := record(7707083893, "ООО Ромашка Плюс")
	upd.MainIndustry = pgtype.Text{}
	second := s.commit(1, upd)
	s.False(second[0].Created)
	s.Equal(first[0].Company.ID, second[0].Company.ID, "update keeps id")
	s.WithinDuration(first[0].Company.CreatedAt, second[0].Company.CreatedAt, time.Millisecond, "update keeps created_at")
	s.Equal("ООО Ромашка Плюс", second[0].Company.Name.String)
	s.False(second[0].Company.MainIndustry.Valid, "null replaces previous value")

	found, err := s.store.FindByOwnerAndINN(s.ctx, 1, 7707083893)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(first[0].Company.ID, found.ID)
	s.Equal("ООО Ромашка Плюс", found.Name.String)
}

func (s *StoreSuite) TestCommitScopedByOwner() {
	a := s.commit(1, record(7707083893, "Владелец 1"))
	b := s.commit(2, record(7707083893, "Владелец 2"))
	s.True(a[0].Created)
	s.True(b[0].Created)
	s.NotEqual(a[0].Company.ID, b[0].Company.ID)

	c, err := s.store.FindByOwnerAndINN(s.ctx, 2, 7707083893)
	s.Require().NoError(err)
	s.Equal("Владелец 2", c.Name.String)
}

func (s *StoreSuite) TestCommitPreservesJSONDataVerbatim() {
	rec := record(7707083893, "ООО Ромашка")
	res := s.commit(1, rec)

	got, err := s.store.GetByID(s.ctx, 1, res[0].Company.ID)
	s.Require().NoError(err)
	s.Equal(rec.JSONData, got.JSONData)
	s.Equal(pgtype.Bool{Bool: true, Valid: true}, got.SupportMeasures)
	s.False(got.FullName.Valid)
}

func (s *StoreSuite) TestCommitConfirmedStampsConfirmedAt() {
	rec := record(7707083893, "ООО Ромашка")
	rec.ConfirmationStatus = core.StatusConfirmed
	res := s.commit(1, rec)
	s.Require().NotNil(res[0].Company.ConfirmedAt)
	s.Equal(core.StatusConfirmed, res[0].Company.ConfirmationStatus)
}

func (s *StoreSuite) TestCommitEmptyBatch() {
	res, err := s.store.CommitBatch(s.ctx, 1, nil)
	s.Require().NoError(err)
	s.Empty(res)
}

func (s *StoreSuite) TestCommitResultsFollowInputOrder() {
	res := s.commit(1,
		record(7736207543, "Вторая"),
		record(500100732259, "ИП Иванов"),
		record(7707083893, "Первая"),
	)
	s.Equal(int64(7736207543), res[0].Company.INN)
	s.Equal(int64(500100732259), res[1].Company.INN)
	s.Equal(int64(7707083893), res[2].Company.INN)
	s.Equal("Первая", res[2].Company.Name.String)
}

func (s *StoreSuite) TestCommitBatchIsAtomic() {
	existing := s.commit(1, record(7736207543, "До загрузки"))

	good := record(7707083893, "ООО Ромашка")
	overwrite := record(7736207543, "После загрузки")
	bad := record(500100732259, "")
	bad.Name = pgtype.Text{}

	_, err := s.store.CommitBatch(s.ctx, 1, []core.CanonicalRecord{good, overwrite, bad})
	s.Require().Error(err)

	_, total, err := s.store.ListByOwner(s.ctx, 1, 10, 0)
	s.Require().NoError(err)
	s.Equal(1, total, "no record of the failed batch is kept")

	missing, err := s.store.FindByOwnerAndINN(s.ctx, 1, 7707083893)
	s.Require().NoError(err)
	s.Nil(missing)

	kept, err := s.store.GetByID(s.ctx, 1, existing[0].Company.ID)
	s.Require().NoError(err)
	s.Equal("До загрузки", kept.Name.String, "update inside the failed batch is rolled back")
}

// ============================================================================
// Listing
// ============================================================================

func (s *StoreSuite) TestListByOwnerPaginates() {
	s.commit(1,
		record(7707083893, "Первая"),
		record(7736207543, "Вторая"),
		record(500100732259, "Третья"),
	)
	s.commit(2, record(7707083893, "Чужая"))

	page, total, err := s.store.ListByOwner(s.ctx, 1, 2, 0)
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(page, 2)
	s.Equal("Третья", page[0].Name, "newest first")

	rest, total, err := s.store.ListByOwner(s.ctx, 1, 2, 2)
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(rest, 1)
	s.Equal("Первая", rest[0].Name)

	none, total, err := s.store.ListByOwner(s.ctx, 3, 10, 0)
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(none)
}

// ============================================================================
// Single-company operations
// ============================================================================

func (s *StoreSuite) TestGetByIDRespectsOwner() {
	res := s.commit(1, record(7707083893, "ООО Ромашка"))

	_, err := s.store.GetByID(s.ctx, 2, res[0].Company.ID)
	s.ErrorIs(err, core.ErrCompanyNotFound)

	_, err = s.store.GetByID(s.ctx, 1, res[0].Company.ID+1000)
	s.ErrorIs(err, core.ErrCompanyNotFound)
}

func (s *StoreSuite) TestUpdateCompany() {
	res := s.commit(1, record(7707083893, "ООО Ромашка"))
	id := res[0].Company.ID

	name := "ООО Ромашка Групп"
	blank := "  "
	status := core.StatusUserConfirmed
	confirmer := "manager@example.ru"
	got, err := s.store.UpdateCompany(s.ctx, 1, id, core.CompanyPatch{
		Name:                &name,
		MainIndustry:        &blank,
		ConfirmationStatus:  &status,
		ConfirmerIdentifier: &confirmer,
	})
	s.Require().NoError(err)
	s.Equal(name, got.Name.String)
	s.False(got.MainIndustry.Valid)
	s.Equal(core.StatusUserConfirmed, got.ConfirmationStatus)
	s.NotNil(got.ConfirmedAt)

	stored, err := s.store.GetByID(s.ctx, 1, id)
	s.Require().NoError(err)
	s.Equal(name, stored.Name.String)
	s.Equal(confirmer, stored.ConfirmerIdentifier.String)
	s.Require().NotNil(stored.ConfirmedAt)
	s.Equal(res[0].Company.JSONData, stored.JSONData, "patch leaves json_data alone")

	back := core.StatusNotConfirmed
	got, err = s.store.UpdateCompany(s.ctx, 1, id, core.CompanyPatch{ConfirmationStatus: &back})
	s.Require().NoError(err)
	s.Nil(got.ConfirmedAt)

	_, err = s.store.UpdateCompany(s.ctx, 2, id, core.CompanyPatch{Name: &name})
	s.ErrorIs(err, core.ErrCompanyNotFound)
}

func (s *StoreSuite) TestReplaceJSONData() {
	res := s.commit(1, record(7707083893, "ООО Ромашка"))
	id := res[0].Company.ID

	data := core.RawRow{Headers: []string{"z", "a"}, Values: []string{"последний", "первый"}}
	s.Require().NoError(s.store.ReplaceJSONData(s.ctx, 1, id, data))

	got, err := s.store.GetByID(s.ctx, 1, id)
	s.Require().NoError(err)
	s.Equal(data, got.JSONData, "key order survives")

	s.ErrorIs(s.store.ReplaceJSONData(s.ctx, 2, id, data), core.ErrCompanyNotFound)
}

func (s *StoreSuite) TestDeleteCompany() {
	res := s.commit(1, record(7707083893, "ООО Ромашка"))
	id := res[0].Company.ID

	s.ErrorIs(s.store.DeleteCompany(s.ctx, 2, id), core.ErrCompanyNotFound)
	s.Require().NoError(s.store.DeleteCompany(s.ctx, 1, id))
	s.ErrorIs(s.store.DeleteCompany(s.ctx, 1, id), core.ErrCompanyNotFound)

	c, err := s.store.FindByOwnerAndINN(s.ctx, 1, 7707083893)
	s.Require().NoError(err)
	s.Nil(c)
}

// RequireMigrated is a helper for factories: it fails the test if migrate errors.
func RequireMigrated(t *testing.T, migrate func(context.Context) error) {
	t.Helper()
	require.NoError(t, migrate(context.Background()))
}
