package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPermission ResultType = "permission"
	ResultAlert      ResultType = "alert"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Status   string     `json:"status,omitempty"`
	KilnID   string     `json:"kilnId,omitempty"`
	LeaderID string     `json:"-"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	// LeaderID restricts hits to records routed to one approver.
	LeaderID string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// PermissionRecord is the data we index for a permission request.
type PermissionRecord struct {
	ID               string `json:"id"`
	KilnID           string `json:"kilnId"`
	KilnSiteName     string `json:"kilnSiteName"`
	ActivityLocation string `json:"activityLocation"`
	Purpose          string `json:"purpose"`
	KilnDistrict     string `json:"kilnDistrict"`
	KilnSector       string `json:"kilnSector"`
	LeaderNote       string `json:"leaderNote"`
	Status           string `json:"status"`
	LeaderID         string `json:"leaderId"`
	BurnerID         string `json:"burnerId"`
}

// AlertRecord is the data we index for an emission alert.
type AlertRecord struct {
	ID       string `json:"id"`
	KilnID   string `json:"kilnId"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	LeaderID string `json:"leaderId"`
}
