package handlers

import "time"

// LinkBody is the JSON representation of a link.
type LinkBody struct {
	ID          int64      `doc:"Store assigned identifier"            example:"42"                                 json:"id"`
	Code        string     `doc:"The short code"                       example:"aZ3x9Q"                             json:"code"`
	URL         string     `doc:"The destination URL"                  example:"https://example.com/very/long/path" json:"url"`
	ShortURL    string     `doc:"The full short URL"                   example:"http://localhost:8888/aZ3x9Q"       json:"shortUrl"`
	Clicks      int64      `doc:"Resolutions persisted so far"         example:"0"                                  json:"clicks"`
	LastClicked *time.Time `doc:"Time of the latest persisted click"   json:"lastClicked" nullable:"true"`
	CreatedAt   time.Time  `doc:"Creation time"                        json:"createdAt"`
}

// CreateLinkRequest is the request for creating a link. Both fields are
// validated by the service so malformed input maps to 400.
type CreateLinkRequest struct {
	Body struct {
		URL  string `doc:"The URL to shorten"                          example:"https://example.com/very/long/path" json:"url,omitempty"`
		Code string `doc:"Optional custom code, 6-8 letters or digits" example:"promo24"                            json:"code,omitempty"`
	}
}

// CreateLinkResponse is the response for a created link.
type CreateLinkResponse struct {
	Location string `doc:"The short URL" header:"Location"`
	Body     LinkBody
}

// ListLinksResponse lists links newest first.
type ListLinksResponse struct {
	Body []LinkBody
}

// CodeRequest addresses a single link.
type CodeRequest struct {
	Code string `doc:"The short code" example:"aZ3x9Q" path:"code"`
}

// GetLinkResponse returns a single link.
type GetLinkResponse struct {
	Body LinkBody
}

// RedirectResponse sends the client to the destination.
type RedirectResponse struct {
	Status       int
	Location     string `header:"Location"`
	CacheControl string `header:"Cache-Control"`
}
