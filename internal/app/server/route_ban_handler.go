package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"cidrbans/internal/blacklist"
	"cidrbans/internal/cidr"
	"cidrbans/internal/domain"
	"cidrbans/internal/moderation"
)

const apiActor = "api"

type addBanRequest struct {
	Range    string `json:"range"`
	Reason   string `json:"reason"`
	IssuedBy string `json:"issued_by"`
	// Duration uses the ban length grammar, e.g. "1d" or "10h-30m". Empty is permanent.
	Duration string `json:"duration"`
}

// statusFor maps domain errors onto HTTP statuses. Malformed input is a 400,
// anything the store could not do is a 4xx/5xx of its own.
func statusFor(err error) int {
	var formatErr *cidr.FormatError
	switch {
	case errors.As(err, &formatErr), errors.Is(err, moderation.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, moderation.ErrNotBanned):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("Ban request failed", "error", err)
	}
	writeError(w, err.Error(), status)
}

func (h *handlers) listBans(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	all, err := h.moderation.Bans(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *handlers) getBanPage(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || number < 1 {
		writeError(w, "Invalid page number", http.StatusBadRequest)
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	page, err := h.moderation.List(r.Context(), number, activeOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) checkAddress(w http.ResponseWriter, r *http.Request) {
	verdict, err := h.gate.Check(r.Context(), r.PathValue("address"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (h *handlers) addBan(w http.ResponseWriter, r *http.Request) {
	var req addBanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	actor := strings.TrimSpace(req.IssuedBy)
	if actor == "" {
		actor = apiActor
	}

	var (
		ban domain.BanRecord
		err error
	)
	if strings.TrimSpace(req.Duration) == "" {
		ban, err = h.moderation.Ban(r.Context(), req.Range, req.Reason, actor)
	} else {
		d, parseErr := moderation.ParseDuration(req.Duration)
		if parseErr != nil {
			writeDomainError(w, parseErr)
			return
		}
		ban, err = h.moderation.TempBan(r.Context(), req.Range, d, req.Reason, actor)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ban)
}

func (h *handlers) deleteBanByRange(w http.ResponseWriter, r *http.Request) {
	rangeKey := r.PathValue("base") + "/" + r.PathValue("prefix")
	if _, err := cidr.ParseRange(rangeKey); err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.moderation.Unban(r.Context(), rangeKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) deleteBansByAddress(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if _, err := cidr.ParseAddress(address); err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.moderation.Unban(r.Context(), address)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) purgeExpiredBans(w http.ResponseWriter, r *http.Request) {
	purged, err := h.cleanup.Sweep(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"purged": purged})
}

type importRequest struct {
	Sources  []string `json:"sources"`
	Reason   string   `json:"reason"`
	IssuedBy string   `json:"issued_by"`
	Duration string   `json:"duration"`
}

func (h *handlers) importBlocklists(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Sources) == 0 {
		writeError(w, "At least one source is required", http.StatusBadRequest)
		return
	}
	for _, src := range req.Sources {
		// the API never reads server-local files
		if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
			writeError(w, "Sources must be http or https URLs", http.StatusBadRequest)
			return
		}
	}

	importReq := blacklist.Request{Sources: req.Sources, Reason: req.Reason, Actor: strings.TrimSpace(req.IssuedBy)}
	if importReq.Actor == "" {
		importReq.Actor = apiActor
	}
	if strings.TrimSpace(req.Duration) != "" {
		d, err := moderation.ParseDuration(req.Duration)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		importReq.Duration = d
	}

	outcomes, err := h.importer.Import(r.Context(), importReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomes)
}
