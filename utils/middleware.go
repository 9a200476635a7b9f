package utils

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kataras/iris/v12"

	"propertyline-server/models"
	"propertyline-server/storage"
)

const sessionCacheTTL = 60 * time.Second

// SessionInfo is the authenticated caller, resolved once by the middleware
// and carried in ctx.Values() so business logic never re-queries the
// session store.
type SessionInfo struct {
	UserID uint   `json:"userID"`
	Role   string `json:"role"`
}

// LookupSession resolves an opaque bearer token against the sessions table,
// with a short Redis cache in front. ok is false for unknown or expired
// tokens. The caller's context bounds both lookups.
func LookupSession(ctx context.Context, token string) (SessionInfo, bool) {
	if token == "" {
		return SessionInfo{}, false
	}

	if storage.Redis != nil {
		if raw, err := storage.Redis.Get(ctx, "session:"+token).Result(); err == nil {
			var info SessionInfo
			if json.Unmarshal([]byte(raw), &info) == nil {
				return info, true
			}
		}
	}

	var session models.Session
	err := storage.DB.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, time.Now()).
		First(&session).Error
	if err != nil {
		return SessionInfo{}, false
	}

	info := SessionInfo{UserID: session.UserID, Role: session.Role}
	if storage.Redis != nil {
		if raw, err := json.Marshal(info); err == nil {
			storage.Redis.Set(ctx, "session:"+token, raw, sessionCacheTTL)
		}
	}
	return info, true
}

// BearerToken extracts the token from the Authorization header, falling
// back to the token query parameter (EventSource clients cannot set
// headers).
func BearerToken(ctx iris.Context) string {
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ctx.URLParam("token")
}

// SessionAuthMiddleware authenticates the request and stores the caller's
// id and role in ctx.Values() for the handlers downstream.
func SessionAuthMiddleware(ctx iris.Context) {
	token := BearerToken(ctx)
	if token == "" {
		CreateUnauthorized(ctx)
		return
	}
	info, ok := LookupSession(ctx.Request().Context(), token)
	if !ok {
		CreateUnauthorized(ctx)
		return
	}
	ctx.Values().Set("userID", info.UserID)
	ctx.Values().Set("userRole", info.Role)
	ctx.Next()
}

// AuthenticatedUserID reads the caller id the middleware stored.
func AuthenticatedUserID(ctx iris.Context) uint {
	if id, ok := ctx.Values().Get("userID").(uint); ok {
		return id
	}
	return 0
}
