// api/schemas/tasks_auth.go
package schemas

// ActiveTask is one cached task lookup, keyed by a link fingerprint. Entries
// carry a sliding expiry; an expired entry is as good as absent.
type ActiveTask struct {
	TaskID string `json:"taskId"`
	Expiry int64  `json:"expiry"` // epoch milliseconds
}

// TaskInfo describes a benchmark task as returned by /task/active_task/.
type TaskInfo struct {
	TaskID      string `json:"taskId"`
	Description string `json:"description,omitempty"`
	StartURL    string `json:"startUrl,omitempty"`
	Active      bool   `json:"active"`
}

// LoginRequest is the body of POST /user/login/.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginFailure discriminates the three mutually exclusive login error
// surfaces the UI can show.
type LoginFailure string

const (
	LoginBadUsername LoginFailure = "bad_username"
	LoginBadPassword LoginFailure = "bad_password"
	LoginConnection  LoginFailure = "connection_error"
)

// LoginResponse is the body of a successful or failed login. On success
// Access and Refresh carry the token pair; on failure Reason discriminates
// the message to show.
type LoginResponse struct {
	OK      bool         `json:"ok"`
	Access  string       `json:"access,omitempty"`
	Refresh string       `json:"refresh,omitempty"`
	Reason  LoginFailure `json:"reason,omitempty"`
}

// RefreshResponse is the body returned by the token refresh endpoint.
type RefreshResponse struct {
	Access string `json:"access"`
}

// CheckResponse answers POST /user/check/.
type CheckResponse struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username,omitempty"`
}
