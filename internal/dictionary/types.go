package dictionary

import "github.com/tinoosan/hostledger/internal/ledger"

type AccountTypeDef struct {
	Type  ledger.AccountType `json:"type"`
	Label string             `json:"label"`
	// Host marks types that hold funds for others. A host account is its own host.
	Host bool `json:"host"`
}

var accountTypes = []AccountTypeDef{
	{Type: ledger.AccountTypeUser, Label: "User"},
	{Type: ledger.AccountTypeOrganization, Label: "Organization"},
	{Type: ledger.AccountTypeCollective, Label: "Collective"},
	{Type: ledger.AccountTypeHost, Label: "Fiscal Host", Host: true},
	{Type: ledger.AccountTypePlatform, Label: "Platform", Host: true},
}

// IsAccountType reports whether t is a known account type.
func IsAccountType(t ledger.AccountType) bool {
	for _, d := range accountTypes {
		if d.Type == t {
			return true
		}
	}
	return false
}

// CanHost reports whether accounts of type t may act as a fiscal host.
func CanHost(t ledger.AccountType) bool {
	for _, d := range accountTypes {
		if d.Type == t {
			return d.Host
		}
	}
	return false
}

// AccountTypes returns the account type taxonomy in display order.
func AccountTypes() []AccountTypeDef {
	out := make([]AccountTypeDef, len(accountTypes))
	copy(out, accountTypes)
	return out
}
