package dialer

// Event names exchanged between the dialer's handlers across contexts.
const (
	EventLoginSuccess  = "user:login.success"
	EventLogout        = "user:logout"
	EventStatusOnHide  = "dialer:status.onhide"
	EventStatusStart   = "dialer:status.start"
	EventStatusShow    = "dialer:status.show"
	EventStatusHide    = "dialer:status.hide"
	EventStatusUpdate  = "dialer:status.update"
	EventDial          = "dialer:dial"
	EventObserverReady = "dialer:observer.ready"
	EventObserverStart = "observer:start"
	EventMenuClick     = "browser:contextmenu.click"
)

const (
	// ObserverFrame is the frame name of the DOM observer script.
	ObserverFrame = "observer"
	// WebpageSource is the analytics source of a context menu dial.
	WebpageSource = "Webpage"

	contextMenuLabelKey = "contextMenuLabel"
	statusTimerPrefix   = "dialer:status.update-"
)

// StatusTimerID names the polling timer of one call.
func StatusTimerID(callID string) string {
	return statusTimerPrefix + callID
}

type peerGone struct {
	Context string `json:"context" validate:"required"`
}

type callPayload struct {
	CallID string `json:"callid" validate:"required"`
}

type sender struct {
	Tab *tabRef `json:"tab"`
}

type tabRef struct {
	ID int `json:"id"`
}

type dialRequest struct {
	BNumber     string  `json:"b_number" validate:"required"`
	ForceSilent bool    `json:"forceSilent"`
	Sender      *sender `json:"sender"`
	Analytics   string  `json:"analytics"`
}

type showRequest struct {
	BNumber string `json:"bNumber"`
	Status  string `json:"status"`
	CallID  string `json:"callid"`
}

type observerReady struct {
	Frame string `json:"frame"`
}

type menuClick struct {
	MenuItemID    string  `json:"menuItemId"`
	SelectionText string  `json:"selectionText" validate:"required"`
	Tab           *tabRef `json:"tab"`
}
