package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/comanda/internal/session"
)

// serveWS authenticates before upgrading so rejected callers get a regular
// HTTP error response.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	credential := r.Header.Get(APIKeyHeader)
	if credential == "" {
		credential = r.URL.Query().Get(APIKeyHeader)
	}
	id, err := h.authn.Authenticate(r.Context(), credential)
	if err != nil {
		writeError(w, r, err)
		return
	}
	scope, err := session.ResolveScope(r.Context(), id, r.URL.Query().Get("branch"), h.branches)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		zctx.From(r.Context()).Debug("Upgrade failed", zap.Error(err))
		return
	}

	ctx := zctx.With(r.Context(),
		zap.String("user_id", id.UserID),
		zap.String("role", string(id.Role)),
	)
	if err := h.sessions.Serve(ctx, conn, scope); err != nil {
		zctx.From(ctx).Warn("Viewer session ended with error", zap.Error(err))
	}
}
