package portfolio

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/fundtrack/internal/clientdata"
	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/events"
	testingpkg "github.com/aristath/fundtrack/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOperationSource is a mock ledger for testing
type MockOperationSource struct {
	mock.Mock
}

func (m *MockOperationSource) ListByAsset(ctx context.Context, assetCode string) ([]domain.Operation, error) {
	args := m.Called(ctx, assetCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Operation), args.Error(1)
}

func (m *MockOperationSource) ListAssetCodes(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func newCacheRepo(t *testing.T) *clientdata.Repository {
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	t.Cleanup(cleanup)
	return clientdata.NewRepository(db.Conn())
}

func fundAOps() []domain.Operation {
	return []domain.Operation{
		testingpkg.NewBuy("110011", testingpkg.Day(2024, 1, 10), "1000", "1000", "1.0000", "0"),
		testingpkg.NewBuy("110011", testingpkg.Day(2024, 2, 10), "1000", "500", "2.0000", "0"),
	}
}

func TestGetPosition_FoldsWithLatestNAV(t *testing.T) {
	source := new(MockOperationSource)
	source.On("ListByAsset", mock.Anything, "110011").Return(fundAOps(), nil)

	navs := testingpkg.NewMockNAVProvider()
	navs.SetLatestNAV("110011", "2.5000")

	service := NewPositionService(source, navs, nil, zerolog.Nop())
	pos, err := service.GetPosition(context.Background(), "110011")
	require.NoError(t, err)

	assert.Equal(t, "1500", pos.TotalShares.String())
	assert.Equal(t, "2000", pos.TotalInvested.String())
	assert.Equal(t, "3750", pos.CurrentValue.String())
	assert.Equal(t, "1750", pos.TotalProfit.String())
	assert.False(t, pos.NAVMissing)
	source.AssertExpectations(t)
}

func TestGetPosition_ServesFromCache(t *testing.T) {
	source := new(MockOperationSource)
	source.On("ListByAsset", mock.Anything, "110011").Return(fundAOps(), nil).Once()

	navs := testingpkg.NewMockNAVProvider()
	navs.SetLatestNAV("110011", "2.0000")

	service := NewPositionService(source, navs, newCacheRepo(t), zerolog.Nop())

	first, err := service.GetPosition(context.Background(), "110011")
	require.NoError(t, err)
	second, err := service.GetPosition(context.Background(), "110011")
	require.NoError(t, err)

	assert.True(t, first.TotalShares.Equal(second.TotalShares))
	assert.True(t, first.AvgCost.Equal(second.AvgCost))
	assert.True(t, first.CurrentValue.Equal(second.CurrentValue))
	require.NotNil(t, second.LatestNAV)
	assert.Equal(t, "2", second.LatestNAV.String())
	source.AssertNumberOfCalls(t, "ListByAsset", 1)
}

func TestGetPosition_EventInvalidatesCache(t *testing.T) {
	source := new(MockOperationSource)
	source.On("ListByAsset", mock.Anything, "110011").Return(fundAOps()[:1], nil).Once()
	source.On("ListByAsset", mock.Anything, "110011").Return(fundAOps(), nil).Once()

	navs := testingpkg.NewMockNAVProvider()
	navs.SetLatestNAV("110011", "2.0000")

	bus := events.NewBus(zerolog.Nop())
	manager := events.NewManager(bus, zerolog.Nop())
	service := NewPositionService(source, navs, newCacheRepo(t), zerolog.Nop())
	service.RegisterInvalidation(bus)

	pos, err := service.GetPosition(context.Background(), "110011")
	require.NoError(t, err)
	assert.Equal(t, "1000", pos.TotalShares.String())

	manager.EmitTyped("operations", &events.OperationRecordedData{
		OperationID:   2,
		AssetCode:     "110011",
		OperationType: string(domain.OperationBuy),
	})

	pos, err = service.GetPosition(context.Background(), "110011")
	require.NoError(t, err)
	assert.Equal(t, "1500", pos.TotalShares.String())
	source.AssertExpectations(t)
}

func TestGetPosition_MissingNAVIsNotCached(t *testing.T) {
	source := new(MockOperationSource)
	source.On("ListByAsset", mock.Anything, "110011").Return(fundAOps(), nil)

	service := NewPositionService(source, testingpkg.NewMockNAVProvider(), newCacheRepo(t), zerolog.Nop())

	pos, err := service.GetPosition(context.Background(), "110011")
	require.NoError(t, err)
	assert.True(t, pos.NAVMissing)
	assert.Nil(t, pos.LatestNAV)
	assert.True(t, pos.CurrentValue.IsZero())

	_, err = service.GetPosition(context.Background(), "110011")
	require.NoError(t, err)
	source.AssertNumberOfCalls(t, "ListByAsset", 2)
}

func TestGetPosition_NAVProviderErrorDegrades(t *testing.T) {
	source := new(MockOperationSource)
	source.On("ListByAsset", mock.Anything, "110011").Return(fundAOps(), nil)

	navs := testingpkg.NewMockNAVProvider()
	navs.SetError(errors.New("upstream down"))

	service := NewPositionService(source, navs, nil, zerolog.Nop())
	pos, err := service.GetPosition(context.Background(), "110011")
	require.NoError(t, err)
	assert.True(t, pos.NAVMissing)
	assert.Equal(t, "1500", pos.TotalShares.String())
}

func TestGetPosition_SourceError(t *testing.T) {
	source := new(MockOperationSource)
	source.On("ListByAsset", mock.Anything, "110011").Return(nil, errors.New("disk gone"))

	service := NewPositionService(source, nil, nil, zerolog.Nop())
	_, err := service.GetPosition(context.Background(), "110011")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestListPositions_SkipsClosedUnlessRequested(t *testing.T) {
	closed := []domain.Operation{
		testingpkg.NewBuy("220022", testingpkg.Day(2024, 1, 5), "500", "500", "1.0000", "0"),
		testingpkg.NewSell("220022", testingpkg.Day(2024, 3, 5), "600", "500", "1.2000", "0"),
	}

	source := new(MockOperationSource)
	source.On("ListAssetCodes", mock.Anything).Return([]string{"220022", "110011"}, nil)
	source.On("ListByAsset", mock.Anything, "110011").Return(fundAOps(), nil)
	source.On("ListByAsset", mock.Anything, "220022").Return(closed, nil)

	navs := testingpkg.NewMockNAVProvider()
	navs.SetLatestNAV("110011", "2.0000")
	navs.SetLatestNAV("220022", "1.3000")

	service := NewPositionService(source, navs, nil, zerolog.Nop())

	open, err := service.ListPositions(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "110011", open[0].AssetCode)

	all, err := service.ListPositions(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "110011", all[0].AssetCode)
	assert.Equal(t, "220022", all[1].AssetCode)
	assert.Equal(t, "100", all[1].RealizedProfit.String())
}

func TestGetSummary(t *testing.T) {
	source := new(MockOperationSource)
	source.On("ListAssetCodes", mock.Anything).Return([]string{"110011"}, nil)
	source.On("ListByAsset", mock.Anything, "110011").Return(fundAOps(), nil)

	navs := testingpkg.NewMockNAVProvider()
	navs.SetLatestNAV("110011", "2.0000")

	service := NewPositionService(source, navs, nil, zerolog.Nop())
	summary, err := service.GetSummary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.PositionCount)
	assert.Equal(t, "2000", summary.TotalInvested.String())
	assert.Equal(t, "3000", summary.CurrentValue.String())
	assert.Equal(t, "1000", summary.TotalProfit.String())
}
