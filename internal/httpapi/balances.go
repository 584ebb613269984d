package httpapi

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// GET /v1/accounts/{ref}/balance?as_of=
func (s *Server) getAccountBalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := asOfParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	acc, err := s.deps.Accounts.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	bal, err := s.deps.Balances.Balances(r.Context(), []uuid.UUID{acc.ID}, asOf)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	at := s.now().UTC()
	if asOf != nil {
		at = *asOf
	}
	hb, err := s.deps.Balances.HostBalances(r.Context(), acc.ID, at)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	b := bal[acc.ID]
	toJSON(w, http.StatusOK, accountBalanceResponse{
		AccountID:    acc.ID,
		Slug:         acc.Slug,
		AsOf:         asOf,
		Currency:     b.Currency,
		BalanceMinor: b.Value,
		ByCurrency:   b.ByCurrency,
		HostBalances: toHostBalances(hb),
	})
}

// GET /v1/balances?account_id=&as_of=
func (s *Server) getBalances(w http.ResponseWriter, r *http.Request) {
	ids, err := accountIDsParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	asOf, err := asOfParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	bals, err := s.deps.Balances.Balances(r.Context(), ids, asOf)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	resp := balancesResponse{AsOf: asOf, Balances: make([]balanceItem, 0, len(ids))}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		b := bals[id]
		resp.Balances = append(resp.Balances, balanceItem{
			AccountID:    id,
			Currency:     b.Currency,
			BalanceMinor: b.Value,
			ByCurrency:   b.ByCurrency,
		})
	}
	toJSON(w, http.StatusOK, resp)
}
