package memory

import (
	"github.com/tinoosan/hostledger/internal/publish"
	"github.com/tinoosan/hostledger/internal/service/account"
	"github.com/tinoosan/hostledger/internal/service/balance"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
	"github.com/tinoosan/hostledger/internal/service/journal"
	"github.com/tinoosan/hostledger/internal/service/settlement"
)

// Compile-time interface assertions documenting which interfaces Store satisfies.
var (
	// Service layer repos and writers
	_ journal.Repo   = (*Store)(nil)
	_ journal.Writer = (*Store)(nil)
	_ account.Repo   = (*Store)(nil)
	_ account.Writer = (*Store)(nil)
	_ balance.Repo   = (*Store)(nil)

	// Units of work
	_ settlement.Repo       = (*Store)(nil)
	_ settlement.UnitOfWork = (*Store)(nil)
	_ carryforward.Store    = (*Store)(nil)

	// Outbox
	_ publish.OutboxStore = (*Store)(nil)
)
