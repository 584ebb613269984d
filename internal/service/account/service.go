// Package account implements the account service rules: unique slugs, immutable
// identity fields, host changes, and the populations batch procedures walk.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/dictionary"
	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/slug"
)

type Repo interface {
	AccountByID(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	AccountBySlug(ctx context.Context, slug string) (ledger.Account, error)
	// AccountsWithHostActivity lists accounts owning a live leg with a host created
	// at or before the instant, ordered by slug.
	AccountsWithHostActivity(ctx context.Context, before time.Time, f ledger.AccountFilter) ([]ledger.Account, error)
}

type Writer interface {
	CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
	UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
}

type Service interface {
	ValidateCreate(a ledger.Account) error
	Create(ctx context.Context, a ledger.Account) (ledger.Account, error)
	CreateBatch(ctx context.Context, specs []ledger.Account) ([]ledger.Account, []ItemError, error)
	Resolve(ctx context.Context, ref string) (ledger.Account, error)
	ChangeHost(ctx context.Context, id uuid.UUID, hostID *uuid.UUID) (ledger.Account, error)
	Population(ctx context.Context, cutoff ledger.Cutoff, f ledger.AccountFilter) ([]ledger.Account, error)
}

type service struct {
	repo   Repo
	writer Writer
}

func New(repo Repo, writer Writer) Service { return &service{repo: repo, writer: writer} }

// ItemError represents a per-item failure in a batch operation.
type ItemError struct {
	Index int
	Code  string
	Err   error
}

// ErrSlugExists indicates another account already uses the slug.
var ErrSlugExists = errors.New("account slug already exists")

func normalize(a ledger.Account) ledger.Account {
	a.Slug = strings.ToLower(strings.TrimSpace(a.Slug))
	if a.Slug == "" {
		a.Slug = slug.Slugify(a.Name)
	}
	a.Name = strings.TrimSpace(a.Name)
	a.Currency = strings.ToUpper(strings.TrimSpace(a.Currency))
	return a
}

func (s *service) ValidateCreate(a ledger.Account) error {
	a = normalize(a)
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", errs.ErrInvalid)
	}
	if !slug.IsSlug(a.Slug) {
		return fmt.Errorf("%w: invalid slug %q", errs.ErrInvalid, a.Slug)
	}
	if _, err := ledger.NewAmount(0, a.Currency); err != nil {
		return err
	}
	if !dictionary.IsAccountType(a.Type) {
		return fmt.Errorf("%w: invalid account type %q", errs.ErrInvalid, a.Type)
	}
	if dictionary.CanHost(a.Type) && a.HostID != nil && *a.HostID != a.ID {
		return fmt.Errorf("%w: a %s account can only host itself", errs.ErrInvalid, a.Type)
	}
	return nil
}

func (s *service) Create(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	a = normalize(a)
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := s.ValidateCreate(a); err != nil {
		return ledger.Account{}, err
	}
	if _, err := s.repo.AccountBySlug(ctx, a.Slug); err == nil {
		return ledger.Account{}, ErrSlugExists
	} else if !errors.Is(err, errs.ErrNotFound) {
		return ledger.Account{}, err
	}
	if a.HostID != nil && *a.HostID != a.ID {
		if _, err := s.hostAccount(ctx, *a.HostID); err != nil {
			return ledger.Account{}, err
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return s.writer.CreateAccount(ctx, a)
}

// CreateBatch validates all specs and, if valid, creates them all in order.
// If any item fails validation or conflicts, nothing is created and per-item errors are returned.
func (s *service) CreateBatch(ctx context.Context, specs []ledger.Account) ([]ledger.Account, []ItemError, error) {
	var itemErrs []ItemError
	normalized := make([]ledger.Account, len(specs))
	seen := make(map[string]int, len(specs))
	for i, in := range specs {
		in = normalize(in)
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		normalized[i] = in
		if err := s.ValidateCreate(in); err != nil {
			itemErrs = append(itemErrs, ItemError{Index: i, Code: "validation_error", Err: err})
			continue
		}
		if prev, ok := seen[in.Slug]; ok {
			itemErrs = append(itemErrs,
				ItemError{Index: prev, Code: "conflict", Err: ErrSlugExists},
				ItemError{Index: i, Code: "conflict", Err: ErrSlugExists})
			continue
		}
		seen[in.Slug] = i
		if _, err := s.repo.AccountBySlug(ctx, in.Slug); err == nil {
			itemErrs = append(itemErrs, ItemError{Index: i, Code: "conflict", Err: ErrSlugExists})
		} else if !errors.Is(err, errs.ErrNotFound) {
			return nil, nil, err
		}
	}
	if len(itemErrs) > 0 {
		return nil, itemErrs, nil
	}
	created := make([]ledger.Account, 0, len(normalized))
	for _, a := range normalized {
		acc, err := s.Create(ctx, a)
		if err != nil {
			return created, nil, err
		}
		created = append(created, acc)
	}
	return created, nil, nil
}

// Resolve finds an account by id or by slug.
func (s *service) Resolve(ctx context.Context, ref string) (ledger.Account, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ledger.Account{}, errs.ErrInvalid
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.repo.AccountByID(ctx, id)
	}
	return s.repo.AccountBySlug(ctx, strings.ToLower(ref))
}

// ChangeHost moves an account to another fiscal host, or unhosts it with nil.
// Past legs keep the host they were booked with.
func (s *service) ChangeHost(ctx context.Context, id uuid.UUID, hostID *uuid.UUID) (ledger.Account, error) {
	if id == uuid.Nil {
		return ledger.Account{}, errs.ErrInvalid
	}
	acc, err := s.repo.AccountByID(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}
	if dictionary.CanHost(acc.Type) {
		return ledger.Account{}, fmt.Errorf("%w: %s accounts cannot change host", errs.ErrImmutable, acc.Type)
	}
	if hostID != nil {
		if _, err := s.hostAccount(ctx, *hostID); err != nil {
			return ledger.Account{}, err
		}
		h := *hostID
		hostID = &h
	}
	acc.HostID = hostID
	return s.writer.UpdateAccount(ctx, acc)
}

func (s *service) hostAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	h, err := s.repo.AccountByID(ctx, id)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("host %s: %w", id, err)
	}
	if !dictionary.CanHost(h.Type) {
		return ledger.Account{}, fmt.Errorf("%w: account %s is not a host", errs.ErrInvalid, id)
	}
	return h, nil
}

// Population lists the accounts with host legs up to the cutoff's closing instant.
func (s *service) Population(ctx context.Context, cutoff ledger.Cutoff, f ledger.AccountFilter) ([]ledger.Account, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, errs.ErrInvalid
	}
	return s.repo.AccountsWithHostActivity(ctx, cutoff.DayEnd, f)
}
