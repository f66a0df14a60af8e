package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

const testOwner int64 = 42

func csvUpload(name, body string) Upload {
	return Upload{Data: []byte(body), FileName: name, OwnerID: testOwner}
}

func newTestPipeline(store CompanyStore, mutate ...func(*PipelineConfig)) *Pipeline {
	cfg := PipelineConfig{}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewPipeline(store, cfg)
}

// ============================================================================
// Scenarios
// ============================================================================

func TestIngest_ValidAndInvalidINN(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)

	res, err := p.Ingest(context.Background(), csvUpload("companies.csv",
		"ИНН,Наименование организации\n1234567890,ООО Ромашка\n12345,Bad Co\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Saved)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 2, res.Skipped[0].RowIndex)
	assert.Equal(t, ReasonInvalidINN, res.Skipped[0].Reason)

	require.Len(t, res.SavedCompanies, 1)
	assert.Equal(t, "ООО Ромашка", res.SavedCompanies[0].Name)
	assert.Equal(t, int64(1234567890), res.SavedCompanies[0].INN)
	assert.Equal(t, ActionCreated, res.SavedCompanies[0].Action)
	assert.Equal(t, EncodingUTF8, res.Encoding)
	assert.Equal(t, ",", res.Delimiter)
	assert.NotEmpty(t, res.UploadID)
}

func TestIngest_LeadingZeroINNKeepsItsDigits(t *testing.T) {
	p := newTestPipeline(newMemStore())

	res, err := p.Ingest(context.Background(), csvUpload("adygea.csv",
		"ИНН,Наименование организации\n0105017467,ООО Майкоп\n0105017467,ООО Майкоп 2\n"))
	require.NoError(t, err)

	require.Len(t, res.SavedCompanies, 1)
	assert.Equal(t, int64(105017467), res.SavedCompanies[0].INN)
	assert.Equal(t, "0105017467", res.SavedCompanies[0].INNText)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ReasonSupersededInFile, res.Skipped[0].Reason)
	assert.Equal(t, "0105017467", res.Skipped[0].INN)
}

func TestIngest_ReuploadIsIdempotent(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)
	body := "ИНН;Наименование организации;Основная отрасль\n" +
		"7707083893;ПАО Сбербанк;Финансы\n" +
		"7736207543;ООО Яндекс;IT\n" +
		"770708389;Короткий ИНН;IT\n"

	first, err := p.Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)
	countAfterFirst := store.count(testOwner)

	second, err := p.Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)

	assert.Equal(t, first.Saved, second.Saved)
	assert.Equal(t, countAfterFirst, store.count(testOwner))
	assert.Equal(t, 2, store.count(testOwner))
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 0, second.Created)

	for i := range first.SavedCompanies {
		assert.Equal(t, first.SavedCompanies[i].ID, second.SavedCompanies[i].ID)
		assert.Equal(t, first.SavedCompanies[i].INN, second.SavedCompanies[i].INN)
		assert.Equal(t, first.SavedCompanies[i].Name, second.SavedCompanies[i].Name)
		assert.Equal(t, ActionUpdated, second.SavedCompanies[i].Action)
	}
}

func TestIngest_OwnersAreIndependent(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)
	body := "ИНН,Наименование\n7707083893,ПАО Сбербанк\n"

	_, err := p.Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)

	other := csvUpload("a.csv", body)
	other.OwnerID = testOwner + 1
	res, err := p.Ingest(context.Background(), other)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, store.count(testOwner))
	assert.Equal(t, 1, store.count(testOwner+1))
}

func TestIngest_UnsupportedFileType(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)

	for _, name := range []string{"companies.txt", "companies.xlsx", "companies", "csv"} {
		t.Run(name, func(t *testing.T) {
			res, err := p.Ingest(context.Background(), csvUpload(name, "ИНН,Наименование\n7707083893,ПАО Сбербанк\n"))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, ErrUnsupportedFileType))
			assert.Equal(t, KindUnsupportedFileType, KindOf(err))
		})
	}

	assert.Zero(t, store.lookups)
	assert.Zero(t, store.commits)
}

func TestIngest_ExtensionCaseInsensitive(t *testing.T) {
	p := newTestPipeline(newMemStore())
	res, err := p.Ingest(context.Background(), csvUpload("EXPORT.CSV", "ИНН,Наименование\n7707083893,ПАО Сбербанк\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)
}

func TestIngest_FileTooLargeBeforeDecoding(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store, func(c *PipelineConfig) { c.MaxFileSize = 16 })

	// NUL bytes would be UndecodableFile if decoding ran first.
	data := append([]byte("ИНН,Наименование\n"), 0, 0, 0)
	_, err := p.Ingest(context.Background(), Upload{Data: data, FileName: "big.csv", OwnerID: testOwner})

	require.Error(t, err)
	assert.Equal(t, KindFileTooLarge, KindOf(err))
	assert.Zero(t, store.commits)
}

func TestIngest_Undecodable(t *testing.T) {
	p := newTestPipeline(newMemStore())
	_, err := p.Ingest(context.Background(), Upload{
		Data:     []byte{0xC8, 0xCD, 0xCD, 0x98, '\n'},
		FileName: "bad.csv",
		OwnerID:  testOwner,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndecodableFile))
}

func TestIngest_EmptyAndHeaderOnly(t *testing.T) {
	p := newTestPipeline(newMemStore())

	_, err := p.Ingest(context.Background(), csvUpload("empty.csv", ""))
	assert.True(t, errors.Is(err, ErrEmptyFile))

	_, err = p.Ingest(context.Background(), csvUpload("bom.csv", "\xEF\xBB\xBF"))
	assert.True(t, errors.Is(err, ErrEmptyFile))

	res, err := p.Ingest(context.Background(), csvUpload("header.csv", "ИНН,Наименование\n"))
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Zero(t, res.Saved)
	assert.Empty(t, res.Skipped)
}

func TestIngest_Windows1251Semicolon(t *testing.T) {
	body := "ИНН;Наименование организации;Данные о мерах поддержки;Наличие особого статуса\n" +
		"7707083893;ПАО Сбербанк;Получены;Системообразующее\n" +
		"7736207543;ООО Яндекс;Нет;\n"
	enc, err := charmap.Windows1251.NewEncoder().String(body)
	require.NoError(t, err)

	store := newMemStore()
	res, err := newTestPipeline(store).Ingest(context.Background(), Upload{Data: []byte(enc), FileName: "spark.csv", OwnerID: testOwner})
	require.NoError(t, err)

	assert.Equal(t, EncodingWindows1251, res.Encoding)
	assert.Equal(t, ";", res.Delimiter)
	assert.Equal(t, 2, res.Saved)

	sber, err := store.FindByOwnerAndINN(context.Background(), testOwner, 7707083893)
	require.NoError(t, err)
	require.NotNil(t, sber)
	assert.Equal(t, "ПАО Сбербанк", sber.Name.String)
	assert.True(t, sber.SupportMeasures.Valid && sber.SupportMeasures.Bool)
	assert.Equal(t, "Системообразующее", sber.SpecialStatus.String)
	assert.Equal(t, "Получены", sber.JSONData.Get("Данные о мерах поддержки"))

	yandex, err := store.FindByOwnerAndINN(context.Background(), testOwner, 7736207543)
	require.NoError(t, err)
	assert.True(t, yandex.SupportMeasures.Valid)
	assert.False(t, yandex.SupportMeasures.Bool)
	assert.False(t, yandex.SpecialStatus.Valid)
}

func TestIngest_MissingName(t *testing.T) {
	res, err := newTestPipeline(newMemStore()).Ingest(context.Background(), csvUpload("a.csv",
		"ИНН,Наименование,Отрасль\n7707083893,,Финансы\n7736207543,   ,IT\n"))
	require.NoError(t, err)

	assert.Zero(t, res.Saved)
	require.Len(t, res.Skipped, 2)
	for _, s := range res.Skipped {
		assert.Equal(t, ReasonMissingName, s.Reason)
	}
}

func TestIngest_NoNameColumn(t *testing.T) {
	res, err := newTestPipeline(newMemStore()).Ingest(context.Background(), csvUpload("a.csv",
		"ИНН,Отрасль\n7707083893,Финансы\n"))
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ReasonMissingName, res.Skipped[0].Reason)
}

func TestIngest_InvalidINNWinsOverMissingName(t *testing.T) {
	res, err := newTestPipeline(newMemStore()).Ingest(context.Background(), csvUpload("a.csv",
		"ИНН,Наименование\n12345678901,\n"))
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ReasonInvalidINN, res.Skipped[0].Reason)
}

func TestIngest_INNLengths(t *testing.T) {
	tests := []struct {
		inn    string
		reject bool
	}{
		{"123456789", true},
		{"12345678901", true},
		{"1234567890", false},
		{"123456789012", false},
		{"", true},
		{"ИНН отсутствует", true},
	}

	for _, tt := range tests {
		t.Run(tt.inn, func(t *testing.T) {
			// Other fields valid
			body := fmt.Sprintf("ИНН,Наименование,Основная отрасль,Данные о мерах поддержки\n%s,ООО Ромашка,Торговля,Есть\n", tt.inn)
			res, err := newTestPipeline(newMemStore()).Ingest(context.Background(), csvUpload("a.csv", body))
			require.NoError(t, err)

			if tt.reject {
				require.Len(t, res.Skipped, 1)
				assert.Equal(t, ReasonInvalidINN, res.Skipped[0].Reason)
				assert.Zero(t, res.Saved)
			} else {
				assert.Empty(t, res.Skipped)
				assert.Equal(t, 1, res.Saved)
			}
		})
	}
}

func TestIngest_ChecksumVerification(t *testing.T) {
	body := "ИНН,Наименование\n1234567890,ООО Ромашка\n7707083893,ПАО Сбербанк\n"

	res, err := newTestPipeline(newMemStore(), func(c *PipelineConfig) { c.VerifyINNChecksum = true }).
		Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Saved)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 1, res.Skipped[0].RowIndex)
	assert.Equal(t, ReasonInvalidINN, res.Skipped[0].Reason)
}

func TestIngest_BooleanAndOptionalFields(t *testing.T) {
	store := newMemStore()
	body := "ИНН,Наименование,Данные о мерах поддержки,Размер предприятия (итог),Статус подтверждения\n" +
		"7707083893,A,Есть,Крупное,Подтверждён\n" +
		"7736207543,B,Нет,,\n" +
		"7702070139,C,,  Среднее  ,что-то\n" +
		"7710140679,D,Нет сведений,,\n"

	res, err := newTestPipeline(store).Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)
	require.Equal(t, 4, res.Saved)

	get := func(inn int64) *Company {
		c, err := store.FindByOwnerAndINN(context.Background(), testOwner, inn)
		require.NoError(t, err)
		require.NotNil(t, c)
		return c
	}

	a := get(7707083893)
	assert.True(t, a.SupportMeasures.Valid && a.SupportMeasures.Bool)
	assert.Equal(t, "Крупное", a.CompanySizeFinal.String)
	assert.Equal(t, StatusConfirmed, a.ConfirmationStatus)

	b := get(7736207543)
	assert.True(t, b.SupportMeasures.Valid)
	assert.False(t, b.SupportMeasures.Bool)
	assert.False(t, b.CompanySizeFinal.Valid)
	assert.Equal(t, StatusNotConfirmed, b.ConfirmationStatus)

	c := get(7702070139)
	assert.False(t, c.SupportMeasures.Valid, "empty boolean is null")
	assert.Equal(t, "Среднее", c.CompanySizeFinal.String)
	assert.Equal(t, StatusNotConfirmed, c.ConfirmationStatus)

	d := get(7710140679)
	assert.False(t, d.SupportMeasures.Valid, "unrecognized boolean is null")
}

func TestIngest_JSONDataVerbatim(t *testing.T) {
	store := newMemStore()
	body := "  ИНН ;Наименование организации;Основная отрасль, 2023;Примечание;Примечание\n" +
		"7707083893;  ПАО  Сбербанк ;Финансы;x;y;лишнее\n"

	res, err := newTestPipeline(store).Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)
	require.Equal(t, 1, res.Saved)

	c, err := store.GetByID(context.Background(), testOwner, res.SavedCompanies[0].ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"  ИНН ", "Наименование организации", "Основная отрасль, 2023", "Примечание", "Примечание_2", "column_6"},
		c.JSONData.Headers)
	assert.Equal(t, []string{"7707083893", "  ПАО  Сбербанк ", "Финансы", "x", "y", "лишнее"}, c.JSONData.Values)
	assert.Equal(t, "ПАО Сбербанк", c.Name.String)
	assert.Equal(t, "Финансы", c.MainIndustry.String)
}

func TestIngest_BlankRowsIgnored(t *testing.T) {
	res, err := newTestPipeline(newMemStore()).Ingest(context.Background(), csvUpload("a.csv",
		"ИНН,Наименование\n7707083893,ПАО Сбербанк\n,\n  ,  \n12345,Bad\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Saved)
	require.Len(t, res.Skipped, 1)
	// indices follow file position
	assert.Equal(t, 4, res.Skipped[0].RowIndex)
}

// ============================================================================
// Dedup
// ============================================================================

func TestIngest_InFileDuplicate_Update(t *testing.T) {
	store := newMemStore()
	body := "ИНН,Наименование\n7707083893,Старое имя\n7736207543,ООО Яндекс\n7707083893,Новое имя\n"

	res, err := newTestPipeline(store).Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Saved)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 1, res.Skipped[0].RowIndex)
	assert.Equal(t, ReasonSupersededInFile, res.Skipped[0].Reason)

	c, err := store.FindByOwnerAndINN(context.Background(), testOwner, 7707083893)
	require.NoError(t, err)
	assert.Equal(t, "Новое имя", c.Name.String)
}

func TestIngest_InFileDuplicate_Strict(t *testing.T) {
	store := newMemStore()
	body := "ИНН,Наименование\n7707083893,Первое\n7707083893,Второе\n"

	res, err := newTestPipeline(store, func(c *PipelineConfig) { c.Policy = PolicyStrict }).
		Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Saved)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 2, res.Skipped[0].RowIndex)
	assert.Equal(t, ReasonDuplicate, res.Skipped[0].Reason)

	c, err := store.FindByOwnerAndINN(context.Background(), testOwner, 7707083893)
	require.NoError(t, err)
	assert.Equal(t, "Первое", c.Name.String)
}

func TestIngest_LookupsOnlyInStrictMode(t *testing.T) {
	body := "ИНН,Наименование\n7707083893,ПАО Сбербанк\n7736207543,ООО Яндекс\n12345,Bad\n"

	update := newMemStore()
	res, err := newTestPipeline(update).Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Zero(t, update.lookups, "update mode relies on the commit upsert")

	res, err = newTestPipeline(update).Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Zero(t, update.lookups)

	strict := newMemStore()
	_, err = newTestPipeline(strict, func(c *PipelineConfig) { c.Policy = PolicyStrict }).
		Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)
	assert.Equal(t, 2, strict.lookups, "one lookup per valid row")
}

func TestIngest_StrictSkipsExisting(t *testing.T) {
	store := newMemStore()
	strict := newTestPipeline(store, func(c *PipelineConfig) { c.Policy = PolicyStrict })
	body := "ИНН,Наименование\n7707083893,ПАО Сбербанк\n"

	_, err := strict.Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)

	res, err := strict.Ingest(context.Background(), csvUpload("a.csv", body))
	require.NoError(t, err)
	assert.Zero(t, res.Saved)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ReasonDuplicate, res.Skipped[0].Reason)
	assert.Equal(t, 1, store.count(testOwner))
}

func TestIngest_UpdateKeepsIDAndCreatedAt(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store)

	first, err := p.Ingest(context.Background(), csvUpload("a.csv", "ИНН,Наименование,Отрасль\n7707083893,Сбер,Финансы\n"))
	require.NoError(t, err)
	before, err := store.GetByID(context.Background(), testOwner, first.SavedCompanies[0].ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	second, err := p.Ingest(context.Background(), csvUpload("b.csv", "ИНН,Наименование\n7707083893,ПАО Сбербанк\n"))
	require.NoError(t, err)
	after, err := store.GetByID(context.Background(), testOwner, second.SavedCompanies[0].ID)
	require.NoError(t, err)

	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, "ПАО Сбербанк", after.Name.String)
	assert.False(t, after.MainIndustry.Valid, "update replaces canonical fields")
	assert.Equal(t, []string{"ИНН", "Наименование"}, after.JSONData.Headers)
}

func TestDedupResolver_Decide(t *testing.T) {
	store := newMemStore()
	_, err := store.CommitBatch(context.Background(), testOwner, []CanonicalRecord{{INN: 7707083893, Name: CoerceText("Сбер")}})
	require.NoError(t, err)

	existing := CanonicalRecord{INN: 7707083893}
	fresh := CanonicalRecord{INN: 7736207543}

	update := NewDedupResolver(store, "")
	d, err := update.Decide(context.Background(), testOwner, existing)
	require.NoError(t, err)
	assert.Equal(t, DecisionUpdate, d)

	d, err = update.Decide(context.Background(), testOwner, fresh)
	require.NoError(t, err)
	assert.Equal(t, DecisionCreate, d)

	d, err = update.Decide(context.Background(), testOwner+1, existing)
	require.NoError(t, err)
	assert.Equal(t, DecisionCreate, d, "other owner's company is invisible")

	strict := NewDedupResolver(store, PolicyStrict)
	d, err = strict.Decide(context.Background(), testOwner, existing)
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipAsDuplicate, d)
}

func TestParseDedupPolicy(t *testing.T) {
	for in, want := range map[string]DedupPolicy{"": PolicyUpdate, "update": PolicyUpdate, " STRICT ": PolicyStrict} {
		got, err := ParseDedupPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDedupPolicy("merge")
	assert.Error(t, err)
}

// ============================================================================
// Failure semantics
// ============================================================================

func TestIngest_CommitFailureIsAtomic(t *testing.T) {
	store := newMemStore()
	store.commitErr = errors.New("unique violation")

	res, err := newTestPipeline(store).Ingest(context.Background(), csvUpload("a.csv",
		"ИНН,Наименование\n7707083893,ПАО Сбербанк\n7736207543,ООО Яндекс\n"))

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, KindStoreCommitFailure, KindOf(err))
	assert.True(t, errors.Is(err, ErrStoreCommit))
	assert.Zero(t, store.count(testOwner))
}

func TestIngest_LookupFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.lookupErr = errors.New("connection refused")

	_, err := newTestPipeline(store, func(c *PipelineConfig) { c.Policy = PolicyStrict }).Ingest(context.Background(), csvUpload("a.csv",
		"ИНН,Наименование\n7707083893,ПАО Сбербанк\n"))

	require.Error(t, err)
	assert.Equal(t, KindStoreCommitFailure, KindOf(err))
	assert.Zero(t, store.commits)
}

func TestIngest_CancelledBeforeCommit(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(store).Ingest(ctx, csvUpload("a.csv",
		"ИНН,Наименование\n7707083893,ПАО Сбербанк\n"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, store.commits)
	assert.Zero(t, store.count(testOwner))
}

// cancelOnLookupStore cancels the ingestion context during the row loop.
type cancelOnLookupStore struct {
	*memStore
	cancel context.CancelFunc
}

func (s *cancelOnLookupStore) FindByOwnerAndINN(ctx context.Context, ownerID, inn int64) (*Company, error) {
	s.cancel()
	return s.memStore.FindByOwnerAndINN(context.Background(), ownerID, inn)
}

func TestIngest_CancelDuringRowsNeverCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &cancelOnLookupStore{memStore: newMemStore(), cancel: cancel}

	_, err := newTestPipeline(store, func(c *PipelineConfig) { c.Policy = PolicyStrict }).Ingest(ctx, csvUpload("a.csv",
		"ИНН,Наименование\n7707083893,ПАО Сбербанк\n"))

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.commits)
}

func TestIngest_CommitContextDetachedFromDeadline(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	_, err := newTestPipeline(store, func(c *PipelineConfig) { c.CommitTimeout = time.Second }).
		Ingest(ctx, csvUpload("a.csv", "ИНН,Наименование\n7707083893,ПАО Сбербанк\n"))
	require.NoError(t, err)
	assert.NoError(t, store.commitCtxErr)
}

// ============================================================================
// Properties
// ============================================================================

func TestIngest_EveryRowAccountedOnce(t *testing.T) {
	faker := gofakeit.New(20240601)
	store := newMemStore()
	p := newTestPipeline(store)

	for round := 0; round < 5; round++ {
		var b strings.Builder
		b.WriteString("ИНН;Наименование организации;Основная отрасль;Данные о мерах поддержки\n")

		rows := faker.Number(1, 200)
		for i := 0; i < rows; i++ {
			fmt.Fprintf(&b, "%s;%s;%s;%s\n", fakeINN(faker), fakeName(faker), faker.JobDescriptor(),
				faker.RandomString([]string{"Есть", "Нет", "", "Да", "н/д"}))
		}

		res, err := p.Ingest(context.Background(), csvUpload(fmt.Sprintf("round%d.csv", round), b.String()))
		require.NoError(t, err)

		assert.Equal(t, rows, res.Processed)
		assert.Equal(t, res.Processed, res.Saved+len(res.Skipped), "round %d", round)
		assert.Equal(t, res.Saved, res.Created+res.Updated)

		seen := make(map[int]bool)
		for _, s := range res.Skipped {
			assert.False(t, seen[s.RowIndex], "row %d skipped twice", s.RowIndex)
			seen[s.RowIndex] = true
			assert.GreaterOrEqual(t, s.RowIndex, 1)
			assert.LessOrEqual(t, s.RowIndex, rows)
		}
	}
}

// fakeINN returns a mix of valid, short, long and garbage INNs, with repeats.
func fakeINN(f *gofakeit.Faker) string {
	switch f.Number(0, 9) {
	case 0:
		return f.DigitN(9)
	case 1:
		return f.DigitN(11)
	case 2:
		return f.LetterN(10)
	case 3:
		return "77070838" + f.DigitN(1) + "3" // repeats within and across rounds
	case 4:
		return f.DigitN(12)
	default:
		return "7" + f.DigitN(9)
	}
}

func fakeName(f *gofakeit.Faker) string {
	if f.Number(0, 9) == 0 {
		return ""
	}
	return "ООО " + f.Company()
}
