package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionHeartbeat Action = "heartbeat"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// HeartbeatRequest is sent by the client on every progress tick.
type HeartbeatRequest struct {
	Action          Action `json:"action"`
	ProgressCurrent int    `json:"progress_current"`
	ProgressTotal   int    `json:"progress_total"`
}

// ViolationRequest is sent by the client to report an integrity violation.
type ViolationRequest struct {
	Action   Action `json:"action"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// SubmitRequest is sent by the client to finish the exam.
type SubmitRequest struct {
	Action  Action            `json:"action"`
	Answers map[string]string `json:"answers"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSuccess   Event = "success"
	EventFlagged   Event = "flagged"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

type HeartbeatResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

type ViolationResponse struct {
	Event      Event  `json:"event"`
	Status     string `json:"status"`
	Counted    bool   `json:"counted"`
	Violations int    `json:"violations"`
	Flagged    bool   `json:"flagged"`
}

type SubmittedResponse struct {
	Event         Event `json:"event"`
	AttemptNumber int   `json:"attempt_number"`
	PointsAwarded int   `json:"points_awarded"`
	PointsMax     int   `json:"points_max"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
