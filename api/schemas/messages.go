// api/schemas/messages.go
package schemas

import "encoding/json"

// Command names the operations the background router understands. Capture
// sessions and the status surfaces speak to the router exclusively through
// these.
type Command string

const (
	CmdGetActiveTask     Command = "get_active_task"
	CmdGetTaskInfo       Command = "get_task_info"
	CmdGetJustifications Command = "get_justifications"
	CmdAlterLogging      Command = "alter_logging_status"
	CmdGetPopupData      Command = "get_popup_data"
	CmdRefreshTaskStatus Command = "refresh_task_status"
	CmdUploadView        Command = "upload_view"
)

// RouterRequest is the fixed request envelope for router traffic.
type RouterRequest struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RouterResponse is the fixed response envelope. Exactly one of Data or
// Error is meaningful depending on OK.
type RouterResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// PopupData is the router's answer to get_popup_data: everything the status
// surface needs in one round trip.
type PopupData struct {
	LoggedIn   bool   `json:"loggedIn"`
	Username   string `json:"username,omitempty"`
	TaskActive bool   `json:"taskActive"`
	TaskID     string `json:"taskId,omitempty"`
	Logging    bool   `json:"logging"`
}

// LoggingStatusChange is the payload of alter_logging_status.
type LoggingStatusChange struct {
	Enabled bool `json:"enabled"`
}
