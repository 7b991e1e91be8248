package bubbleads

import "github.com/hazyhaar/bubbleads/internal/trends"

// Stage names accepted by RunStage, the CLI and the web UI.
const (
	StageTrends  = "trends"
	StageUploads = "uploads"
	StageAds     = "ads"
	StageRun     = "run"
)

// TrendReport is the outcome of the trends stage.
type TrendReport struct {
	RunID    string             `json:"run_id"`
	Merged   []trends.MergedTag `json:"merged"`
	Selected []string           `json:"selected"`
	Stacks   map[string]string  `json:"stacks"`
}

// UploadReport is the outcome of the uploads stage.
type UploadReport struct {
	RunID    string `json:"run_id"`
	Uploaded int    `json:"uploaded"`
	Reused   int    `json:"reused"`
	Skipped  int    `json:"skipped"` // tags with no usable candidate
}

// PublishReport is the outcome of the ads stage.
type PublishReport struct {
	RunID   string `json:"run_id"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Expired int    `json:"expired"`
}

// RunReport aggregates a full pipeline pass.
type RunReport struct {
	Trends  *TrendReport   `json:"trends"`
	Uploads *UploadReport  `json:"uploads"`
	Publish *PublishReport `json:"publish"`
}
