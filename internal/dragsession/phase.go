package dragsession

// Phase is where a drag is in its lifecycle:
// Idle -> Dragging -> {DroppedValid, DroppedInvalid} -> Idle.
type Phase int

const (
	Idle Phase = iota
	Dragging
	DroppedValid
	DroppedInvalid
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case DroppedValid:
		return "dropped-valid"
	case DroppedInvalid:
		return "dropped-invalid"
	}
	return "unknown"
}

type NoticeKind string

const (
	// NoticeBlocked: every column is blocked, the drag can only be cancelled.
	NoticeBlocked NoticeKind = "blocked"
	// NoticeRejected: the drop target failed local validation.
	NoticeRejected NoticeKind = "rejected"
	NoticeMoved    NoticeKind = "moved"
	NoticeConflict NoticeKind = "conflict"
	// NoticeFailed: the server refused the move or could not be reached.
	NoticeFailed NoticeKind = "failed"
)

// Notice tells the UI what happened to a drag. Reason is always set for
// anything other than NoticeMoved.
type Notice struct {
	Kind    NoticeKind
	BoardID int64
	TaskID  int64
	Reason  string
	Err     error
}
