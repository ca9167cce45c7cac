package svc

import (
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"fxcore/internal/bridge"
	"fxcore/internal/config"
	"fxcore/internal/executor"
	"fxcore/internal/ident"
	"fxcore/internal/margin"
	"fxcore/internal/model"
	"fxcore/internal/pricing"
	"fxcore/internal/queue"
	"fxcore/internal/store"
	"fxcore/internal/trigger"
	"fxcore/internal/workers"
	providerpkg "fxcore/pkg/provider"
	_ "fxcore/pkg/provider/sim" // register the sim builder
)

// ServiceContext wires the execution core: the shared store and bus, the
// pricing/margin engines, the executor and the provider send path. The HTTP
// API uses all of it; marketd and bridged build one and run their own loops
// over the pieces they need.
type ServiceContext struct {
	Config config.Config

	Store store.Store
	Bus   queue.Bus

	Groups    *pricing.Groups
	Pricing   *pricing.Resolver
	Margin    *margin.Engine
	Ident     *ident.Generator
	Registrar *trigger.Registrar
	Appliers  *workers.Appliers
	Executor  *executor.Executor

	Providers map[string]providerpkg.Provider
	Sender    *bridge.Sender

	// Optional SQL-backed group catalog; the store-first cache falls back to
	// it on a miss when configured.
	DBConn       sqlx.SqlConn
	GroupSymbols model.GroupSymbolsModel
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	if c.Store.InMemory() {
		svc.Store = store.NewMem()
	} else {
		svc.Store = store.NewRedis(c.Store.ToStore())
	}

	if c.Queue.InMemory() {
		svc.Bus = queue.NewMemBus()
	} else {
		bus, err := queue.DialAmqp(c.Queue.URL)
		if err != nil {
			log.Fatalf("failed to dial queue broker: %v", err)
		}
		svc.Bus = bus
	}

	if c.Postgres.DSN != "" {
		svc.DBConn = sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.GroupSymbols = model.NewGroupSymbolsModel(svc.DBConn)
	}

	svc.Groups = pricing.NewGroups(svc.Store, svc.GroupSymbols)
	svc.Pricing = pricing.NewResolver(svc.Store, svc.Groups)
	svc.Margin = margin.NewEngine(svc.Store, svc.Pricing)
	svc.Ident = ident.NewGenerator(c.WorkerID)
	svc.Registrar = trigger.NewRegistrar(svc.Store, svc.Pricing)
	svc.Appliers = workers.NewAppliers(svc.Store, svc.Bus, svc.Pricing, svc.Margin, svc.Registrar)

	svc.Executor = executor.New(svc.Store, svc.Bus, svc.Pricing, svc.Margin, svc.Registrar, svc.Ident)
	svc.Executor.SetCloseApplier(svc.Appliers)

	defaultProvider := ""
	if c.Providers.Value != nil {
		providers, err := c.Providers.Value.BuildProviders()
		if err != nil {
			log.Fatalf("failed to build providers: %v", err)
		}
		svc.Providers = providers
		defaultProvider = c.Providers.Value.Default
	}
	svc.Sender = bridge.NewSender(svc.Bus, svc.Providers, defaultProvider)

	return svc
}
