// Package platform holds the clients for the surrounding social platform:
// the access policy gate (friendship/blacklist/privacy decisions) and the
// user directory (profiles, premium status). The messaging core consumes
// these as oracles and never implements the policies itself.
package platform

import "context"

// Actions checked through the policy gate.
const (
	ActionMessage = "message"
	ActionReact   = "react"
	ActionDelete  = "delete_for_everyone"
)

// Gate answers whether an actor may interact with a target user.
type Gate interface {
	// IsAllowed reports whether actorID may perform action towards targetID.
	IsAllowed(ctx context.Context, action, actorID, targetID string) (bool, error)
	// IsBlocked reports whether either user has blacklisted the other.
	IsBlocked(ctx context.Context, userA, userB string) (bool, error)
	// Block adds targetID to actorID's blacklist (used by the
	// clear-history-and-block flow). Best effort.
	Block(ctx context.Context, actorID, targetID string) error
}

// Profile is the privacy-filtered public view of a user, as resolved for a
// specific viewer.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	Premium   bool   `json:"premium"`
}

// Directory resolves user profiles and account tier.
type Directory interface {
	// Profile returns userID's profile as visible to viewerID (the platform
	// applies avatar/last-seen privacy settings on its side).
	Profile(ctx context.Context, viewerID, userID string) (Profile, error)
	// IsPremium reports whether the account has a premium subscription
	// (doubles the conversation pin quota).
	IsPremium(ctx context.Context, userID string) (bool, error)
}
