package models

// Dataset describes a dataset published in the reporting workspace.
type Dataset struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ConfiguredBy      string `json:"configuredBy,omitempty"`
	IsRefreshable     bool   `json:"isRefreshable"`
	CreatedDate       string `json:"createdDate,omitempty"`
	WebURL            string `json:"webUrl,omitempty"`
	TargetStorageMode string `json:"targetStorageMode,omitempty"`
}
