package crawler

import (
	"net/http"
	"time"
)

// CrawlRequest asks the Manager to schedule one or more jobs.
type CrawlRequest struct {
	Platform    string     `json:"platform"`
	Strategy    string     `json:"strategy"`
	Parameters  []string   `json:"parameters"`
	CampaignID  string     `json:"campaign_id"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	PeriodHours float64    `json:"period_hours,omitempty"`
	ID          string     `json:"id,omitempty"`
}

// Stats counts what a job pushed through the pipeline.
type Stats struct {
	Responses int64 `json:"responses"`
	Triples   int64 `json:"triples"`
	Outlinks  int64 `json:"outlinks"`
}

// Add returns the element-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Responses: s.Responses + o.Responses,
		Triples:   s.Triples + o.Triples,
		Outlinks:  s.Outlinks + o.Outlinks,
	}
}

// ItemStats is what the pipeline extracted from one response.
type ItemStats struct {
	Items    int
	Rejected int
	Triples  int
	Outlinks int
}

// RequestMeta identifies the API call that produced a response.
type RequestMeta struct {
	Server      string `json:"server"`
	Interaction string `json:"interaction"`
	RequestURL  string `json:"request_url"`
}

// ResponseEnvelope is produced once per page fetch and consumed by the pipeline.
type ResponseEnvelope struct {
	Success    bool
	StatusCode int
	Content    any
	Raw        []byte
	Headers    http.Header
	Meta       RequestMeta
	FetchedAt  time.Time
}

// Cursor carries pagination state between two page fetches. The zero value
// means "first page".
type Cursor struct {
	Page  int
	Pages int
	Token string
}

// Page is the outcome of one strategy step.
type Page struct {
	Envelope *ResponseEnvelope
	Success  bool
	Next     Cursor
	Done     bool
	// Anomaly reports a malformed or missing pagination field that ended the job.
	Anomaly error
}

// Triple is one normalized fact.
type Triple struct {
	Subject   string `json:"s"`
	Predicate string `json:"p"`
	Object    string `json:"o"`
}

// Outlink is one URL forwarded to the link-intake service.
type Outlink struct {
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// PlatformStats aggregates finished jobs of one platform inside a campaign.
type PlatformStats struct {
	FinishedCrawls int64 `json:"finished_crawls"`
	Stats
}

// CampaignSnapshot is the read model of a campaign.
type CampaignSnapshot struct {
	ID         string                   `json:"id"`
	CreatedAt  time.Time                `json:"created_at"`
	Crawls     []string                 `json:"crawls"`
	Statistics map[string]PlatformStats `json:"statistics"`
}
