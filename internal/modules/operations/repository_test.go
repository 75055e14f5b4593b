package operations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/aristath/fundtrack/internal/database"
	"github.com/aristath/fundtrack/internal/domain"
	testingpkg "github.com/aristath/fundtrack/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func insertPlanRow(t *testing.T, db *sql.DB, asset string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO dca_plans (asset_code, amount, frequency, start_date, created_at, updated_at)
		VALUES (?, '100', 'monthly', 0, 0, 0)`, asset)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	op := testingpkg.NewBuy("110011", testingpkg.Day(2024, 1, 10), "1000", "99.5", "10", "5")
	op.Notes = "first buy"
	require.NoError(t, repo.Create(ctx, &op))
	require.NotZero(t, op.ID)

	got, err := repo.GetByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, "110011", got.AssetCode)
	assert.Equal(t, domain.OperationBuy, got.Type)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.True(t, got.Amount.Equal(testingpkg.Dec("1000")))
	assert.True(t, got.Quantity.Equal(testingpkg.Dec("99.5")))
	assert.True(t, got.Fee.Equal(testingpkg.Dec("5")))
	assert.True(t, got.OperationDate.Equal(testingpkg.Day(2024, 1, 10)))
	assert.Equal(t, "first buy", got.Notes)
	assert.Nil(t, got.DCAPlanID)
}

func TestRepository_GetByIDNotFound(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.GetByID(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestRepository_PlanDayIsClaimedOnce(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	planID := insertPlanRow(t, repo.DB(), "110011")

	first := testingpkg.NewBuy("110011", testingpkg.Day(2024, 2, 1), "100", "10", "10", "0")
	first.DCAPlanID = &planID
	require.NoError(t, repo.Create(ctx, &first))

	second := first
	second.ID = 0
	err := repo.Create(ctx, &second)
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))

	days, err := repo.PlanDays(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"2024-02-01": true}, days)
}

func TestRepository_ListFilters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	planID := insertPlanRow(t, repo.DB(), "110011")

	ops := []domain.Operation{
		testingpkg.NewBuy("110011", testingpkg.Day(2024, 1, 1), "100", "10", "10", "0"),
		testingpkg.NewBuy("110011", testingpkg.Day(2024, 2, 1), "100", "10", "10", "0"),
		testingpkg.NewSell("110011", testingpkg.Day(2024, 3, 1), "50", "5", "10", "0"),
		testingpkg.NewBuy("220022", testingpkg.Day(2024, 2, 15), "300", "30", "10", "0"),
		testingpkg.NewDividend("110011", testingpkg.Day(2024, 3, 15), "12", "10"),
	}
	ops[1].DCAPlanID = &planID
	for i := range ops {
		require.NoError(t, repo.Create(ctx, &ops[i]))
	}

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ops[4].ID, all[0].ID, "most recent first")

	byAsset, err := repo.List(ctx, Filter{AssetCode: "110011", Type: domain.OperationBuy})
	require.NoError(t, err)
	assert.Len(t, byAsset, 2)

	from := testingpkg.Day(2024, 2, 1)
	to := testingpkg.Day(2024, 2, 29)
	inRange, err := repo.List(ctx, Filter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, inRange, 2)

	byPlan, err := repo.List(ctx, Filter{DCAPlanID: &planID})
	require.NoError(t, err)
	require.Len(t, byPlan, 1)
	assert.Equal(t, ops[1].ID, byPlan[0].ID)

	pending, err := repo.List(ctx, Filter{Status: domain.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.OperationDividend, pending[0].Type)

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ops[2].ID, page[0].ID)

	count, err := repo.Count(ctx, Filter{AssetCode: "110011"})
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	ledger, err := repo.ListByAsset(ctx, "110011")
	require.NoError(t, err)
	require.Len(t, ledger, 4)
	assert.Equal(t, ops[0].ID, ledger[0].ID, "oldest first")

	codes, err := repo.ListAssetCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"110011", "220022"}, codes)
}

func TestRepository_UpdateAndDelete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	op := testingpkg.NewBuy("110011", testingpkg.Day(2024, 1, 1), "100", "10", "10", "0")
	require.NoError(t, repo.Create(ctx, &op))

	op.Amount = testingpkg.Dec("200")
	op.Quantity = testingpkg.Dec("20")
	op.OperationDate = testingpkg.Day(2024, 1, 2)
	require.NoError(t, database.WithTransactionContext(ctx, repo.DB(), func(tx *sql.Tx) error {
		return repo.UpdateTx(ctx, tx, &op)
	}))

	got, err := repo.GetByID(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(testingpkg.Dec("200")))
	assert.Equal(t, "2024-01-02", got.OperationDay())

	require.NoError(t, database.WithTransactionContext(ctx, repo.DB(), func(tx *sql.Tx) error {
		return repo.UpdateStatusTx(ctx, tx, op.ID, domain.StatusCancelled, "")
	}))
	got, err = repo.GetByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	require.NoError(t, database.WithTransactionContext(ctx, repo.DB(), func(tx *sql.Tx) error {
		return repo.DeleteTx(ctx, tx, op.ID)
	}))
	_, err = repo.GetByID(ctx, op.ID)
	assert.True(t, domain.IsNotFound(err))

	err = database.WithTransactionContext(ctx, repo.DB(), func(tx *sql.Tx) error {
		return repo.DeleteTx(ctx, tx, op.ID)
	})
	assert.True(t, domain.IsNotFound(err))
}

func TestRepository_DeleteByPlanAndIDs(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	planID := insertPlanRow(t, repo.DB(), "110011")

	var ids []int64
	for _, day := range []int{1, 2, 3} {
		op := testingpkg.NewBuy("110011", testingpkg.Day(2024, 4, day), "100", "10", "10", "0")
		op.DCAPlanID = &planID
		require.NoError(t, repo.Create(ctx, &op))
		ids = append(ids, op.ID)
	}
	manual := testingpkg.NewBuy("110011", testingpkg.Day(2024, 4, 1), "100", "10", "10", "0")
	require.NoError(t, repo.Create(ctx, &manual))

	var removed int64
	require.NoError(t, database.WithTransactionContext(ctx, repo.DB(), func(tx *sql.Tx) error {
		var err error
		removed, err = repo.DeleteIDsTx(ctx, tx, ids[:1])
		return err
	}))
	assert.Equal(t, int64(1), removed)

	n, err := repo.DeleteByPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := repo.ListByAsset(ctx, "110011")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, manual.ID, left[0].ID)
}

func TestRepository_FindBySource(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	div := testingpkg.NewDividend("110011", testingpkg.Day(2024, 5, 1), "12", "1.2")
	require.NoError(t, repo.Create(ctx, &div))

	none, err := repo.FindBySource(ctx, div.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	buy := testingpkg.NewBuy("110011", testingpkg.Day(2024, 5, 1), "12", "10", "1.2", "0")
	buy.SourceOperationID = &div.ID
	require.NoError(t, repo.Create(ctx, &buy))

	found, err := repo.FindBySource(ctx, div.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, buy.ID, found.ID)
}
