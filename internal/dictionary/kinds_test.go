package dictionary

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinoosan/hostledger/internal/ledger"
)

func TestDebtKinds(t *testing.T) {
	assert.Equal(t, []ledger.Kind{ledger.KindHostFeeShareDebt, ledger.KindPlatformTipDebt, ledger.KindHostFixedFeeDebt}, DebtKinds())
	assert.True(t, IsDebt(ledger.KindHostFixedFeeDebt))
	assert.True(t, IsDebt(ledger.KindPlatformTipDebt))
	assert.False(t, IsDebt(ledger.KindPlatformTip))
	assert.False(t, IsDebt(ledger.Kind("NOPE")))
}

func TestInvoiceLine(t *testing.T) {
	assert.Equal(t, "Platform Tips", InvoiceLine(ledger.KindPlatformTipDebt))
	assert.Equal(t, "Shared Revenue", InvoiceLine(ledger.KindHostFeeShareDebt))
	assert.Equal(t, "Fixed Fee per Hosted Collective", InvoiceLine(ledger.KindHostFixedFeeDebt))
	assert.Equal(t, "Host Fee", InvoiceLine(ledger.KindHostFee))
	assert.Equal(t, "MYSTERY", InvoiceLine(ledger.Kind("MYSTERY")))
	assert.True(t, IsKnown(ledger.KindBalanceCarryforward))
	assert.Len(t, Kinds(), 11)
}

func TestAccountTypes(t *testing.T) {
	assert.True(t, CanHost(ledger.AccountTypeHost))
	assert.True(t, CanHost(ledger.AccountTypePlatform))
	assert.False(t, CanHost(ledger.AccountTypeCollective))
	assert.False(t, CanHost(ledger.AccountType("BANK")))
	assert.True(t, IsAccountType(ledger.AccountTypeUser))
	assert.False(t, IsAccountType(ledger.AccountType("EQUITY")))
	assert.Len(t, AccountTypes(), 5)
}
