package httpapi

import (
	"net/http"

	"github.com/tinoosan/hostledger/internal/service/carryforward"
)

// GET /v1/carryforward/coverage?year=|cutoff=&host_id=&account=&limit=&offset=
func (s *Server) getCoverage(w http.ResponseWriter, r *http.Request) {
	cutoff, err := cutoffParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	hostID, err := uuidParam(r, "host_id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	report, err := s.deps.Coverage.Verify(r.Context(), carryforward.VerifyOptions{
		Cutoff:     cutoff,
		AccountRef: r.URL.Query().Get("account"),
		HostID:     hostID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toCoverageResponse(report))
}
