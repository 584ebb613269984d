// Package httpapi exposes the ledger's admin HTTP surface: balance lookups,
// carryforward coverage and invoice payment marking.
// Handlers stay thin and delegate business rules to the service layer.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
)

// Accounts resolves an account by id or slug.
type Accounts interface {
	Resolve(ctx context.Context, ref string) (ledger.Account, error)
}

// Balances reads current and historical balances.
type Balances interface {
	Balances(ctx context.Context, ids []uuid.UUID, asOf *time.Time) (map[uuid.UUID]ledger.Balance, error)
	HostBalances(ctx context.Context, id uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error)
}

// Coverage classifies carryforward coverage without writing.
type Coverage interface {
	Verify(ctx context.Context, opts carryforward.VerifyOptions) (carryforward.Report, error)
}

// Invoices reads invoices and records payments.
type Invoices interface {
	Invoice(ctx context.Context, id uuid.UUID) (ledger.Invoice, error)
	MarkInvoicePaid(ctx context.Context, id uuid.UUID, at time.Time) (ledger.Invoice, error)
}

// ReadyChecker is implemented by stores and caches that can report readiness.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// Deps are the services the server delegates to.
type Deps struct {
	Accounts Accounts
	Balances Balances
	Coverage Coverage
	Invoices Invoices
	// Ready is probed by /readyz in order.
	Ready []ReadyChecker
}

// Server wires handlers and middleware using Chi.
type Server struct {
	deps Deps
	log  *slog.Logger
	rt   *chi.Mux
	now  func() time.Time
}

// New constructs the HTTP server with routes and middleware.
func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)

	s := &Server{deps: deps, log: logger, rt: r, now: time.Now}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

func (s *Server) routes() {
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Handle("/metrics", metricsHandler())

	s.rt.Route("/v1", func(r chi.Router) {
		r.Get("/accounts/{ref}/balance", s.getAccountBalance)
		r.Get("/balances", s.getBalances)
		r.Get("/carryforward/coverage", s.getCoverage)
		r.Get("/invoices/{id}", s.getInvoice)
		r.Post("/invoices/{id}/paid", s.postInvoicePaid)
	})
}
