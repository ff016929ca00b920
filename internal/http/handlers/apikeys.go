package handlers

import (
	"errors"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"codetrace/internal/auth"
	dbpkg "codetrace/internal/db"
	"codetrace/internal/http/api"
	"codetrace/internal/ratelimit"
)

// CreateKeyRequest is the POST /v1/keys body.
type CreateKeyRequest struct {
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	ExpiresAt *string  `json:"expires_at"`
}

func (r *CreateKeyRequest) Validate() []api.FieldError {
	var violations []api.FieldError

	if r.Name == "" {
		violations = append(violations, api.FieldError{Path: "name", Message: "must not be empty"})
	}
	if len(r.Scopes) == 0 {
		violations = append(violations, api.FieldError{Path: "scopes", Message: "at least one scope is required"})
	}
	known := make(map[string]bool, len(auth.KnownScopes))
	for _, s := range auth.KnownScopes {
		known[s] = true
	}
	for _, s := range r.Scopes {
		if !known[s] {
			violations = append(violations, api.FieldError{Path: "scopes", Message: "unknown scope: " + s})
		}
	}
	if r.ExpiresAt != nil {
		if _, err := time.Parse(time.RFC3339, *r.ExpiresAt); err != nil {
			violations = append(violations, api.FieldError{Path: "expires_at", Message: "must be an ISO-8601 datetime"})
		}
	}

	return violations
}

// apiKeyView is the listing shape of a key. The hash never leaves the
// database; only the recognisable prefix does.
type apiKeyView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	KeyPrefix     string     `json:"key_prefix"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	LastUsedAt    *time.Time `json:"last_used_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toAPIKeyView(k dbpkg.APIKey) apiKeyView {
	return apiKeyView{
		ID:            k.ID,
		Name:          k.Name,
		KeyPrefix:     k.KeyPrefix,
		Scopes:        []string(k.Scopes),
		RateLimitTier: k.RateLimitTier,
		LastUsedAt:    k.LastUsedAt,
		ExpiresAt:     k.ExpiresAt,
		CreatedAt:     k.CreatedAt,
	}
}

// CreateAPIKey handles POST /v1/keys. The plaintext key appears in this
// response and nowhere else, ever.
func CreateAPIKey(db *gorm.DB) api.Handler {
	return func(_ *fasthttp.RequestCtx, c *api.Context) *api.Response {
		body := c.Body.(*CreateKeyRequest)

		generated, err := auth.GenerateKey()
		if err != nil {
			return api.Fail(api.Internal())
		}

		key := &dbpkg.APIKey{
			UserID:        c.UserID,
			Name:          body.Name,
			KeyHash:       generated.Hash,
			KeyPrefix:     generated.Prefix,
			Scopes:        datatypes.NewJSONSlice(body.Scopes),
			RateLimitTier: string(ratelimit.TierStandard),
		}
		if body.ExpiresAt != nil {
			expires, _ := time.Parse(time.RFC3339, *body.ExpiresAt)
			key.ExpiresAt = &expires
		}

		if err := db.Create(key).Error; err != nil {
			return api.Fail(api.DatabaseError())
		}

		return api.Created(map[string]any{
			"key":           toAPIKeyView(*key),
			"plaintext_key": generated.Plaintext,
		})
	}
}

// ListAPIKeys handles GET /v1/keys.
func ListAPIKeys(db *gorm.DB) api.Handler {
	return func(_ *fasthttp.RequestCtx, c *api.Context) *api.Response {
		keys, err := dbpkg.ListAPIKeysForUser(db, c.UserID)
		if err != nil {
			return api.Fail(api.DatabaseError())
		}

		views := make([]apiKeyView, 0, len(keys))
		for _, k := range keys {
			views = append(views, toAPIKeyView(k))
		}
		return api.OK(views)
	}
}

// DeleteAPIKey handles DELETE /v1/keys/{id}. Revocation is a hard
// delete and only the owner may do it.
func DeleteAPIKey(db *gorm.DB) api.Handler {
	return func(ctx *fasthttp.RequestCtx, c *api.Context) *api.Response {
		keyID, _ := ctx.UserValue("id").(string)
		if keyID == "" {
			return api.Fail(api.BadRequest("Missing key id"))
		}

		err := dbpkg.DeleteAPIKeyOwned(db, c.UserID, keyID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return api.Fail(api.NotFound("API key not found"))
		}
		if err != nil {
			return api.Fail(api.DatabaseError())
		}

		return api.OK(map[string]any{"revoked": keyID})
	}
}
