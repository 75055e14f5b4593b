package di

import (
	"fmt"

	"github.com/aristath/fundtrack/internal/clientdata"
	"github.com/aristath/fundtrack/internal/config"
	"github.com/aristath/fundtrack/internal/modules/calendar"
	"github.com/aristath/fundtrack/internal/modules/dca"
	"github.com/aristath/fundtrack/internal/modules/operations"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.ClientDataRepo = clientdata.NewRepository(container.CacheDB.Conn())
	container.CalendarRepo = calendar.NewRepository(container.ConfigDB.Conn(), cfg.WeekendsAreHolidays, log)
	container.OperationRepo = operations.NewRepository(container.LedgerDB.Conn(), log)
	container.PlanRepo = dca.NewRepository(container.LedgerDB.Conn(), log)

	log.Info().Msg("All repositories initialized")
	return nil
}
