package cli

import (
	"github.com/ppiankov/dcawatch/internal/audit"
	"github.com/ppiankov/dcawatch/internal/contract"
	"github.com/ppiankov/dcawatch/internal/governance"
	"github.com/ppiankov/dcawatch/internal/sla"
)

// app holds the components a command works with.
type app struct {
	source *contract.Source
	ledger *audit.Ledger
	facade *governance.Facade
}

func loadContracts() (*contract.Source, error) {
	repo, err := contract.Load(cfg.Contracts)
	if err != nil {
		return nil, err
	}
	logger.Debug("contracts loaded", "path", cfg.Contracts, "agencies", repo.Len(), "hash", repo.Hash())
	return contract.NewSource(repo), nil
}

// newApp loads contracts, opens the ledger and wires the facade.
func newApp() (*app, error) {
	source, err := loadContracts()
	if err != nil {
		return nil, err
	}
	ledger, err := cfg.OpenLedger()
	if err != nil {
		return nil, err
	}
	authorizer, err := cfg.NewAuthorizer()
	if err != nil {
		ledger.Close()
		return nil, err
	}

	facade := governance.New(sla.NewEvaluator(source), ledger,
		governance.WithAuthorizer(authorizer),
		governance.WithContractHash(func() string { return source.Current().Hash() }),
		governance.WithLogger(logger),
	)
	return &app{source: source, ledger: ledger, facade: facade}, nil
}

func (a *app) Close() error {
	return a.ledger.Close()
}
