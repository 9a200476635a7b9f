package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"propertyline-server/models"
)

// FallbackDisplayName is what a user with no profile row resolves to. A
// missing profile must never fail a message fetch.
const FallbackDisplayName = "User"

const identityCacheTTL = 5 * time.Minute

// Identity is the display info attached to message and conversation
// payloads.
type Identity struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// PropertyInfo is the slice of a property the messaging core needs: its
// display name and its landlord for default-receiver resolution.
type PropertyInfo struct {
	Name       string `json:"name"`
	LandlordID uint   `json:"landlord_id"`
}

// Directory resolves user and property ids against the relational store,
// probing the per-role profile tables in order. Stateless apart from a
// read-through Redis cache; cache failures are ignored.
type Directory struct {
	db    *gorm.DB
	cache *redis.Client
}

func NewDirectory(db *gorm.DB, cache *redis.Client) *Directory {
	return &Directory{db: db, cache: cache}
}

// ResolveUser returns display info for a user, falling back to "User" when
// no profile row matches. Never errors: resolver misses are a soft condition
// swallowed here, not surfaced to the API.
func (d *Directory) ResolveUser(ctx context.Context, userID uint) Identity {
	cacheKey := cacheKeyUser(userID)
	if cached, ok := d.cacheGet(ctx, cacheKey); ok {
		return cached
	}

	identity := d.probeProfiles(userID)
	d.cacheSet(ctx, cacheKey, identity)
	return identity
}

func (d *Directory) probeProfiles(userID uint) Identity {
	var tenant models.TenantProfile
	if err := d.db.Where("user_id = ?", userID).First(&tenant).Error; err == nil {
		return identityFrom(tenant.FirstName, tenant.LastName, tenant.AvatarURL)
	}
	var landlord models.LandlordProfile
	if err := d.db.Where("user_id = ?", userID).First(&landlord).Error; err == nil {
		return identityFrom(landlord.FirstName, landlord.LastName, landlord.AvatarURL)
	}
	var admin models.AdminProfile
	if err := d.db.Where("user_id = ?", userID).First(&admin).Error; err == nil {
		return identityFrom(admin.FirstName, admin.LastName, admin.AvatarURL)
	}
	var user models.User
	if err := d.db.First(&user, userID).Error; err == nil {
		return identityFrom(user.FirstName, user.LastName, user.AvatarURL)
	}
	return Identity{Name: FallbackDisplayName}
}

// ResolveProperty returns the property's name and landlord. A miss is a soft
// not-found: conversations against unknown properties resolve to empty
// results upstream, never to an error.
func (d *Directory) ResolveProperty(ctx context.Context, propertyID uint) (PropertyInfo, bool) {
	cacheKey := cacheKeyProperty(propertyID)
	if d.cache != nil {
		if raw, err := d.cache.Get(ctx, cacheKey).Result(); err == nil {
			var info PropertyInfo
			if json.Unmarshal([]byte(raw), &info) == nil {
				return info, true
			}
		}
	}

	var property models.Property
	if err := d.db.First(&property, propertyID).Error; err != nil {
		return PropertyInfo{}, false
	}
	info := PropertyInfo{Name: property.Name, LandlordID: property.LandlordID}
	if d.cache != nil {
		if raw, err := json.Marshal(info); err == nil {
			d.cache.Set(ctx, cacheKey, raw, identityCacheTTL)
		}
	}
	return info, true
}

func (d *Directory) cacheGet(ctx context.Context, key string) (Identity, bool) {
	if d.cache == nil {
		return Identity{}, false
	}
	raw, err := d.cache.Get(ctx, key).Result()
	if err != nil {
		return Identity{}, false
	}
	var identity Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return Identity{}, false
	}
	return identity, true
}

func (d *Directory) cacheSet(ctx context.Context, key string, identity Identity) {
	if d.cache == nil {
		return
	}
	if raw, err := json.Marshal(identity); err == nil {
		d.cache.Set(ctx, key, raw, identityCacheTTL)
	}
}

func cacheKeyUser(userID uint) string {
	return "identity:user:" + strconv.FormatUint(uint64(userID), 10)
}

func cacheKeyProperty(propertyID uint) string {
	return "identity:property:" + strconv.FormatUint(uint64(propertyID), 10)
}

// identityFrom builds the display identity from profile columns, falling
// back to the fixed name when both name parts are blank.
func identityFrom(first, last, avatar string) Identity {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name == "" {
		name = FallbackDisplayName
	}
	return Identity{Name: name, AvatarURL: avatar}
}
