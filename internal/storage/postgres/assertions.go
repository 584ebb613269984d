package postgres

import (
	"github.com/tinoosan/hostledger/internal/publish"
	"github.com/tinoosan/hostledger/internal/service/account"
	"github.com/tinoosan/hostledger/internal/service/balance"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
	"github.com/tinoosan/hostledger/internal/service/journal"
	"github.com/tinoosan/hostledger/internal/service/settlement"
)

var (
	_ account.Repo          = (*Store)(nil)
	_ account.Writer        = (*Store)(nil)
	_ journal.Repo          = (*Store)(nil)
	_ journal.Writer        = (*Store)(nil)
	_ balance.Repo          = (*Store)(nil)
	_ settlement.Repo       = (*Store)(nil)
	_ settlement.UnitOfWork = (*Store)(nil)
	_ carryforward.Store    = (*Store)(nil)
	_ publish.OutboxStore   = (*Store)(nil)
	_ settlement.Tx         = hostTx{}
	_ carryforward.Tx       = accountTx{}
)
