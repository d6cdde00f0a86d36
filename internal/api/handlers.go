package api

import (
	"context"
	"net/http"

	"similarusers/internal/errors"
)

// handleSimilarUsers serves the similarity query. The steps mirror the
// request lifecycle: validate, check for a running refresh, take the
// subject's lock, populate from the store, admit live-only users through
// the wiki API, augment with live edits, assemble.
func (s *Server) handleSimilarUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params, serr := s.ParseQueryParams(r)
	if serr != nil {
		WriteServiceError(w, serr)
		return
	}

	// A refresh truncates and reloads the backing tables; reading during
	// one would populate the cache from a half-empty store. The lock is
	// sampled once, so a refresh starting after this point can still
	// collide; that risk is accepted.
	if s.refreshInProgress() {
		s.logger.Warn("Database refresh in progress. Aborting request.", nil)
		WriteServiceError(w, errors.New(errors.DatabaseRefresh,
			"Database refresh in progress"))
		return
	}

	unlock := s.cache.LockUser(params.UserText)
	defer unlock()

	known, err := s.cache.Lookup(params.UserText)
	if err != nil {
		s.logger.Error("Failed to load data for user", map[string]interface{}{
			"user":  params.UserText,
			"error": err.Error(),
		})
		InternalServerError(w, err)
		return
	}

	if !known {
		if serr := s.admitUser(r.Context(), params.UserText); serr != nil {
			WriteServiceError(w, serr)
			return
		}
	}

	if err := s.engine.Refresh(r.Context(), params.UserText); err != nil {
		s.logger.Error("Live augmentation failed", map[string]interface{}{
			"user":  params.UserText,
			"error": err.Error(),
		})
		WriteServiceError(w, errors.FromError(err))
		return
	}

	WriteJSON(w, s.buildResponse(params), http.StatusOK)
}

// admitUser decides whether a user absent from the bulk dataset may be
// served from live data alone. Accounts with no in-scope edits are
// rejected outright; for the rest, registration state tells anonymous
// editors apart from registered ones and screens out bots.
func (s *Server) admitUser(ctx context.Context, userText string) *errors.ServiceError {
	hasEdits, err := s.client.HasEditsSince(ctx, userText, s.earliestTS)
	if err != nil {
		return errors.Wrap(errors.UpstreamUnavailable,
			"failed to check edits for user "+userText, err)
	}
	if !hasEdits {
		s.logger.Warn("User does not have an account or edits in scope", map[string]interface{}{
			"user": userText,
		})
		return errors.Newf(errors.UserNoEdits,
			"User `%s` does not appear to have an account (or edits in scope) on %swiki.",
			userText, s.cfg.Wiki.Lang)
	}

	info, err := s.client.AccountInfo(ctx, userText)
	if err != nil {
		return errors.Wrap(errors.UpstreamUnavailable,
			"failed to look up account info for user "+userText, err)
	}

	switch {
	case info.Missing:
		// Should never happen: a valid username with contributions but
		// no account record.
		s.logger.Error("User has contributions but no account record", map[string]interface{}{
			"user": userText,
		})
		return errors.Newf(errors.UserNoAccount,
			"User `%s` does not appear to have an account on %swiki.",
			userText, s.cfg.Wiki.Lang)
	case info.Invalid:
		// Has contributions but is not a registrable name: an anonymous
		// editor, identified by IP.
		s.cache.Admit(userText, true)
		return nil
	case info.IsBot():
		s.logger.Warn("User is a bot account", map[string]interface{}{
			"user": userText,
		})
		return errors.Newf(errors.UserBot,
			"User `%s` is a bot and therefore out of scope.", userText)
	default:
		s.logger.Debug("User not in dataset, serving from live data", map[string]interface{}{
			"user": userText,
		})
		s.cache.Admit(userText, false)
		return nil
	}
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("similarusers is running"))
}

// handleRefreshStatus reports whether a bulk dataset refresh holds the
// ingestion lock right now.
func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, map[string]bool{"in_progress": s.refreshInProgress()}, http.StatusOK)
}
