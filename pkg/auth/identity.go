package auth

import (
	"log/slog"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/credentials"
)

// Identity is the authenticated client attached to a request context. The
// JSON names are the keys downstream handlers read.
//
// Identity never carries the client secret.
type Identity struct {
	ClientID     int64  `json:"client.id"`
	Name         string `json:"client.name"`
	Token        string `json:"client.token"`
	Active       bool   `json:"client.active"`
	ProfileID    int64  `json:"client.profile"`
	ProfileName  string `json:"client.profileName,omitempty"`
	IsPrivileged bool   `json:"client.isRoot"`
}

// NewIdentity builds the identity for an authenticated credential record.
func NewIdentity(rec credentials.Record) *Identity {
	return &Identity{
		ClientID:     rec.ID,
		Name:         rec.Name,
		Token:        rec.Token,
		Active:       rec.Active,
		ProfileID:    rec.Profile.ID,
		ProfileName:  rec.Profile.Name,
		IsPrivileged: rec.Profile.IsPrivileged,
	}
}

// LogValue implements [slog.LogValuer].
func (i *Identity) LogValue() slog.Value {
	if i == nil {
		return slog.StringValue("<anonymous>")
	}
	return slog.GroupValue(
		slog.Int64("id", i.ClientID),
		slog.String("name", i.Name),
		slog.Int64("profile", i.ProfileID),
		slog.Bool("root", i.IsPrivileged),
	)
}
