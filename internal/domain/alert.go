package domain

const (
	TagTest = "test-auto"
	TagRain = "rain-today"
	TagAir  = "air-today"
)

const DefaultTitle = "SIGAIRE"

// Alert is a candidate notification for one subscription in one run.
// Tag is both the OS grouping key and the dedupe axis.
type Alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// Payload is what the service worker receives.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
	URL   string `json:"url"`
}

func (a Alert) Payload(url string) Payload {
	if url == "" {
		url = "/"
	}
	return Payload{Title: a.Title, Body: a.Body, Tag: a.Tag, URL: url}
}

// SubscriptionResult summarizes one subscription's dispatch outcome.
type SubscriptionResult struct {
	ID     SubscriptionID `json:"id"`
	Pushes int            `json:"pushes"`
	Errors int            `json:"errors,omitempty"`
}
