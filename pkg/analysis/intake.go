package analysis

// SourceMetadata carries the optional structured context submitted with an
// intake. Absent fields are zero values and every rule treats them as
// "no match", never as errors.
type SourceMetadata struct {
	Platform    string   `json:"platform,omitempty"`
	Region      string   `json:"region,omitempty"`
	ActorID     string   `json:"actor_id,omitempty"`
	RelatedURLs []string `json:"related_urls,omitempty"`
}

// Intake is one accepted content submission. Immutable once accepted; a
// re-analysis of the same text produces a new intake with a new identity.
type Intake struct {
	Text     string         `json:"text"`
	Language string         `json:"language,omitempty"`
	Source   string         `json:"source,omitempty"`
	Metadata SourceMetadata `json:"metadata"`
	Tags     []string       `json:"tags,omitempty"`
}
