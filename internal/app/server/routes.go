package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"cidrbans/internal/blacklist"
	"cidrbans/internal/jobs/maintenance"
	"cidrbans/internal/moderation"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the services behind the admin API.
type Dependencies struct {
	Moderation *moderation.Service
	Gate       *moderation.Gate
	Cleanup    *maintenance.ExpiredBanCleanup
	Importer   *blacklist.Importer
}

type handlers struct {
	moderation *moderation.Service
	gate       *moderation.Gate
	cleanup    *maintenance.ExpiredBanCleanup
	importer   *blacklist.Importer
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the admin API handler.
func NewRouter(deps Dependencies) http.Handler {
	h := &handlers{
		moderation: deps.Moderation,
		gate:       deps.Gate,
		cleanup:    deps.Cleanup,
		importer:   deps.Importer,
	}

	router := http.NewServeMux()
	router.HandleFunc("GET /version", getVersion)

	router.HandleFunc("GET /bans", h.listBans)
	router.HandleFunc("GET /bans/page/{page}", h.getBanPage)
	router.HandleFunc("GET /bans/check/{address}", h.checkAddress)
	router.HandleFunc("POST /bans", h.addBan)
	router.HandleFunc("DELETE /bans/range/{base}/{prefix}", h.deleteBanByRange)
	router.HandleFunc("DELETE /bans/address/{address}", h.deleteBansByAddress)
	router.HandleFunc("POST /bans/purge", h.purgeExpiredBans)
	router.HandleFunc("POST /bans/import", h.importBlocklists)

	router.HandleFunc("GET /settings", getSettings)
	router.HandleFunc("PUT /settings", saveSettings)

	return enableCORS(router)
}

// OpenRoutes serves handler on port until ctx is done, then shuts down
// gracefully.
func OpenRoutes(ctx context.Context, port int, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting cidrbans API on port :%d", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	log.Debug("API server stopped")
	return nil
}
