package reconcile

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/upimatch/internal/reconcile/journal"
	"github.com/smallbiznis/upimatch/internal/reconcile/service"
	"github.com/smallbiznis/upimatch/internal/reconcile/store"
)

var Module = fx.Module("reconcile.service",
	fx.Provide(store.New),
	fx.Provide(service.New),
)

// JournalModule persists ingested notifications. Without it the service journals nowhere.
var JournalModule = fx.Module("reconcile.journal",
	fx.Provide(journal.New),
)
