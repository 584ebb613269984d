package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/ledger"
)

const maxBalanceIDs = 200

// asOfParam parses an optional RFC3339 as_of. A bare date means the end of that day.
func asOfParam(r *http.Request) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("as_of"))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		tt := t.UTC()
		return &tt, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid as_of %q", raw)
	}
	end := ledger.CutoffAt(d).DayEnd
	return &end, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func uuidParam(r *http.Request, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", name)
	}
	return &id, nil
}

// accountIDsParam accepts repeated or comma separated account_id values.
func accountIDsParam(r *http.Request) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, v := range r.URL.Query()["account_id"] {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				return nil, fmt.Errorf("invalid account_id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("account_id is required")
	}
	if len(ids) > maxBalanceIDs {
		return nil, fmt.Errorf("at most %d account_id values", maxBalanceIDs)
	}
	return ids, nil
}

// cutoffParam reads cutoff=YYYY-MM-DD or year=YYYY; one of them is required.
func cutoffParam(r *http.Request) (ledger.Cutoff, error) {
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("cutoff")); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return ledger.Cutoff{}, fmt.Errorf("invalid cutoff %q: want YYYY-MM-DD", raw)
		}
		return ledger.CutoffAt(d), nil
	}
	raw := strings.TrimSpace(q.Get("year"))
	if raw == "" {
		return ledger.Cutoff{}, fmt.Errorf("year or cutoff is required")
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1970 || year > 9999 {
		return ledger.Cutoff{}, fmt.Errorf("invalid year %q", raw)
	}
	return ledger.YearEnd(year), nil
}
