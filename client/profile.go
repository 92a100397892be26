package client

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// AvatarFallbackURL is the generated-avatar service used when a profile has no avatar
const AvatarFallbackURL = "https://ui-avatars.com/api/"

// Playlist is a user-owned list of videos
type Playlist struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	VideoIDs  []string `json:"videoIds"`
	CreatedAt string   `json:"createdAt"`
	IsPublic  bool     `json:"isPublic"`
}

// ProfilePayload is the user object as the portal API returns it.
type ProfilePayload struct {
	ID            string     `json:"id,omitempty"`
	FullName      string     `json:"full_name,omitempty"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Email         string     `json:"email,omitempty"`
	AvatarURL     string     `json:"avatar_url,omitempty"`
	WatchHistory  []string   `json:"watch_history,omitempty"`
	Favorites     []string   `json:"favorites,omitempty"`
	Playlists     []Playlist `json:"playlists,omitempty"`
	Roles         []string   `json:"roles,omitempty"`
	Permissions   []string   `json:"permissions,omitempty"`
	EmailVerified bool       `json:"email_verified,omitempty"`
}

// Profile is the normalized view of the authenticated user.
// It is replaced wholesale on every load and never mutated in place.
type Profile struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Avatar        string     `json:"avatar"`
	EmailVerified bool       `json:"email_verified"`
	Roles         []string   `json:"roles"`
	Permissions   []string   `json:"permissions"`
	WatchHistory  []string   `json:"watch_history"`
	Favorites     []string   `json:"favorites"`
	Playlists     []Playlist `json:"playlists"`
}

// HasRole returns true if the user holds the given role
func (p *Profile) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

// HasPermission returns true if the user holds the given permission
func (p *Profile) HasPermission(permission string) bool {
	return p != nil && slices.Contains(p.Permissions, permission)
}

// clone returns a deep copy so snapshots never alias manager state
func (p *Profile) clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Roles = slices.Clone(p.Roles)
	out.Permissions = slices.Clone(p.Permissions)
	out.WatchHistory = slices.Clone(p.WatchHistory)
	out.Favorites = slices.Clone(p.Favorites)
	out.Playlists = make([]Playlist, len(p.Playlists))
	for i, pl := range p.Playlists {
		pl.VideoIDs = slices.Clone(pl.VideoIDs)
		out.Playlists[i] = pl
	}
	return &out
}

// NormalizeProfile converts an API payload into a Profile.
// The display name falls back through full name, first name and email to "User".
func NormalizeProfile(payload *ProfilePayload) *Profile {
	if payload == nil {
		payload = &ProfilePayload{}
	}

	name := firstNonEmpty(payload.FullName, payload.FirstName, payload.Email, "User")
	avatar := payload.AvatarURL
	if avatar == "" {
		avatar = AvatarFor(name)
	}

	return &Profile{
		ID:            payload.ID,
		Name:          name,
		Email:         payload.Email,
		Avatar:        avatar,
		EmailVerified: payload.EmailVerified,
		Roles:         orEmpty(payload.Roles),
		Permissions:   orEmpty(payload.Permissions),
		WatchHistory:  orEmpty(payload.WatchHistory),
		Favorites:     orEmpty(payload.Favorites),
		Playlists:     orEmpty(payload.Playlists),
	}
}

// AvatarFor returns the generated avatar URL for a display name
func AvatarFor(displayName string) string {
	name := strings.ReplaceAll(url.QueryEscape(displayName), "+", "%20")
	return fmt.Sprintf("%s?name=%s&background=ef4444&color=fff", AvatarFallbackURL, name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
