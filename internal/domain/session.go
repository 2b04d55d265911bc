package domain

const (
	SessionKeyAccessToken  = "access_token"
	SessionKeyRefreshToken = "refresh_token"
	SessionKeyUser         = "user"
)

// SessionKeys lists every durable key owned by a session, in deletion order.
var SessionKeys = []string{SessionKeyAccessToken, SessionKeyRefreshToken, SessionKeyUser}

type Tokens struct {
	Access  string
	Refresh string
}

// Anonymous reports whether the tokens carry no access credential.
func (t Tokens) Anonymous() bool {
	return t.Access == ""
}

type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

func (u UserProfile) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

type SessionEventKind string

const (
	SessionTokensUpdated SessionEventKind = "tokens_updated"
	SessionCleared       SessionEventKind = "cleared"
	SessionExpired       SessionEventKind = "expired"
)

type SessionEvent struct {
	Kind SessionEventKind
}
