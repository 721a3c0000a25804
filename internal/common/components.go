package common

const (
	ComponentService     = "service"
	ComponentChainClient = "chain-client"
	ComponentBackfill    = "backfill"
	ComponentWatcher     = "watcher"
	ComponentPersistence = "persistence"
	ComponentNotify      = "notify"
	ComponentLedger      = "ledger"
	ComponentAPI         = "api"
)

var AllComponents = map[string]struct{}{
	ComponentService:     {},
	ComponentChainClient: {},
	ComponentBackfill:    {},
	ComponentWatcher:     {},
	ComponentPersistence: {},
	ComponentNotify:      {},
	ComponentLedger:      {},
	ComponentAPI:         {},
}
