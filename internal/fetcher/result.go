package fetcher

// Stats counts what a parse pass kept and dropped.
type Stats struct {
	Entries   int `json:"entries"`
	Discarded int `json:"discarded"`  // records without a name, junk URLs, cut short by another line, oversized lines
	StrayURLs int `json:"stray_urls"` // URL lines with no preceding metadata
}
