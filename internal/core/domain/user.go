package domain

// Profile is the display profile attached to an identity. It comes from the
// external identity provider and is immutable for the session.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

// OnlineEntry binds a user identity to its current live connection. The
// presence directory holds at most one entry per identity.
type OnlineEntry struct {
	UserID  UserID  `json:"userId"`
	ConnID  ConnID  `json:"connId"`
	Profile Profile `json:"profile"`
}
