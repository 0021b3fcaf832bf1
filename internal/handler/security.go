package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/store/internal/domain/auth"
	"github.com/xenking/store/pkg/httpmiddleware"
)

type apiKeyCtxKey struct{}

// APIKeyFromContext returns the key authenticated by RequireAPIKey.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// RequireAPIKey authenticates the api_key header by its HMAC-SHA256 hash and
// checks that the key grants scope.
func (h *Handler) RequireAPIKey(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := r.Header.Get(httpmiddleware.HeaderAPIKey)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			info, err := h.authenticate(ctx, key)
			switch {
			case errors.Is(err, errUnauthorized):
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			case err != nil:
				zctx.From(ctx).Error("Authenticate API key", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if !info.HasScope(scope) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			ctx = context.WithValue(ctx, apiKeyCtxKey{}, info)
			ctx = zctx.With(ctx, zap.String("api_key", info.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errUnauthorized = errors.New("unauthorized")

func (h *Handler) authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	hash := auth.HashKey(key, h.pepper)

	info, err := h.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, errUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}
