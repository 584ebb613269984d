package devseed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/service/account"
	"github.com/tinoosan/hostledger/internal/service/journal"
)

// Fixture names the seeded accounts.
type Fixture struct {
	Platform   ledger.Account
	Host       ledger.Account
	EuroHost   ledger.Account
	Donor      ledger.Account
	Collective ledger.Account
	Travelling ledger.Account
	Groups     []uuid.UUID
}

func money(cents int64, currency string) ledger.Amount {
	return ledger.Amount{Cents: cents, Currency: currency}
}

// Seed creates a platform, a GBP host, an EUR host and two collectives, then
// records a year of activity ending on year-12-31. One collective moves from
// the EUR host to the GBP host mid-year, leaving it with two currencies.
func Seed(ctx context.Context, accounts account.Service, j journal.Service, year int, log *slog.Logger) (Fixture, error) {
	if log == nil {
		log = slog.Default()
	}
	platformID, hostID, euroHostID := uuid.New(), uuid.New(), uuid.New()
	specs := []ledger.Account{
		{ID: platformID, Slug: "platform", Name: "Platform", Type: ledger.AccountTypePlatform, Currency: "USD", HostID: &platformID},
		{ID: hostID, Slug: "brighton-host", Name: "Brighton Host", Type: ledger.AccountTypeHost, Currency: "GBP", HostID: &hostID},
		{ID: euroHostID, Slug: "lisbon-host", Name: "Lisbon Host", Type: ledger.AccountTypeHost, Currency: "EUR", HostID: &euroHostID},
		{Slug: "jo-donor", Name: "Jo Donor", Type: ledger.AccountTypeUser, Currency: "GBP"},
		{Slug: "eco-collective", Name: "Eco Collective", Type: ledger.AccountTypeCollective, Currency: "GBP", HostID: &hostID},
		{Slug: "travelling-band", Name: "Travelling Band", Type: ledger.AccountTypeCollective, Currency: "EUR", HostID: &euroHostID},
	}
	created, itemErrs, err := accounts.CreateBatch(ctx, specs)
	if err != nil {
		return Fixture{}, err
	}
	if len(itemErrs) > 0 {
		return Fixture{}, fmt.Errorf("seed accounts: item %d: %w", itemErrs[0].Index, itemErrs[0].Err)
	}
	seeded := Fixture{
		Platform:   created[0],
		Host:       created[1],
		EuroHost:   created[2],
		Donor:      created[3],
		Collective: created[4],
		Travelling: created[5],
	}

	day := func(m time.Month, d int) time.Time { return time.Date(year, m, d, 12, 0, 0, 0, time.UTC) }
	record := func(legs []ledger.Transaction) ([]ledger.Transaction, error) {
		saved, err := j.Record(ctx, legs)
		if err != nil {
			return nil, err
		}
		seeded.Groups = append(seeded.Groups, saved[0].Group)
		return saved, nil
	}

	batches := [][]ledger.Transaction{
		Contribution(seeded.Donor, seeded.Collective, money(5000, "GBP"), day(time.February, 3)),
		HostFee(seeded.Collective, seeded.Host, money(900, "GBP"), day(time.February, 3)),
		Contribution(seeded.Donor, seeded.Collective, money(4000, "GBP"), day(time.June, 14)),
		HostFee(seeded.Collective, seeded.Host, money(700, "GBP"), day(time.June, 14)),
		HostFeeShareDebt(seeded.Host, seeded.Platform, money(240, "GBP"), day(time.June, 14)),
		Contribution(seeded.Donor, seeded.Travelling, money(3000, "EUR"), day(time.March, 9)),
	}
	for _, legs := range batches {
		if _, err := record(legs); err != nil {
			return Fixture{}, err
		}
	}
	tip, err := record(PlatformTipDebt(seeded.Host, seeded.Platform, money(813, "GBP"), day(time.June, 14)))
	if err != nil {
		return Fixture{}, err
	}
	if _, err := record(PartialRefund(tip, 63, day(time.June, 20))); err != nil {
		return Fixture{}, err
	}

	moved, err := accounts.ChangeHost(ctx, seeded.Travelling.ID, &seeded.Host.ID)
	if err != nil {
		return Fixture{}, err
	}
	seeded.Travelling = moved
	if _, err := record(Contribution(seeded.Donor, seeded.Travelling, money(1500, "GBP"), day(time.September, 1))); err != nil {
		return Fixture{}, err
	}

	log.InfoContext(ctx, "dev seed loaded",
		"host", seeded.Host.Slug,
		"collective", seeded.Collective.Slug,
		"groups", len(seeded.Groups),
		"year", year,
	)
	return seeded, nil
}
