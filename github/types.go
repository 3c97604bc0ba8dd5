// Package github provides the GitHub App client used to check pull request state.
package github

// Pull request states returned by the REST API.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	ID       int64  `json:"id"`
	Number   int    `json:"number"`
	State    string `json:"state"`
	Title    string `json:"title"`
	Merged   bool   `json:"merged"`
	Draft    bool   `json:"draft"`
	HTMLURL  string `json:"html_url"`
	MergedAt string `json:"merged_at,omitempty"`
	ClosedAt string `json:"closed_at,omitempty"`
}

// IsOpen reports whether the pull request is still awaiting review or merge.
func (pr *PullRequest) IsOpen() bool {
	return pr.State == StateOpen && !pr.Merged
}
