package entities

// StateData is the payload bound to an OAuth state token for the lifetime of
// one authorize/callback exchange. It is stored in the ephemeral state store,
// never in the relational store.
type StateData struct {
	OrgID       string   `json:"org_id"`
	ConnectedBy string   `json:"connected_by"`
	Provider    Provider `json:"provider"`
}

// CallbackStatus is the outcome visible to the polling browser tab.
type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackCompleted CallbackStatus = "completed"
	CallbackError     CallbackStatus = "error"
)

// CallbackResult is written to the result store when a callback finishes, so
// the tab that opened the OAuth popup can observe the outcome by polling.
type CallbackResult struct {
	Status         CallbackStatus `json:"status"`
	Provider       Provider       `json:"provider,omitempty"`
	InstallationID string         `json:"installation_id,omitempty"`
	Reactivated    bool           `json:"reactivated,omitempty"`
	Error          string         `json:"error,omitempty"`
}
