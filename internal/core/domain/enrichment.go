package domain

// Capability names understood by the enrichment pipeline.
const (
	CapabilityMediaProbe        = "media_probe"
	CapabilityTextExtraction    = "text_extraction"
	CapabilityAIAnalysis        = "ai_analysis"
	CapabilityKeywordExtraction = "keyword_extraction"
)

// CapabilityStep is one entry of a workflow.
type CapabilityStep struct {
	Name     string `yaml:"name" json:"name"`
	Required bool   `yaml:"required" json:"required"`
}

// Workflow is an ordered list of capabilities applied to one asset.
type Workflow struct {
	Name         string           `yaml:"name" json:"name"`
	Capabilities []CapabilityStep `yaml:"capabilities" json:"capabilities"`
}

// EnrichmentInput is what a capability sees: the asset as stored when the job
// started, its raw content and the fragment produced by earlier capabilities.
type EnrichmentInput struct {
	Asset    Asset
	Content  []byte
	Fragment Metadata
}

// EnrichmentResult is the outcome of a whole pipeline run.
type EnrichmentResult struct {
	Workflow              string
	Fragment              Metadata
	CapabilitiesCompleted []string
	CapabilitiesFailed    []string
}

// CapabilityProgress is reported after each capability finishes.
type CapabilityProgress struct {
	Capability string
	Succeeded  bool
	Completed  int
	Total      int
	Err        error
}

// Percentage rounds down so 100 is only reported when every step finished.
func (p CapabilityProgress) Percentage() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Completed * 100 / p.Total
}

// GraphDocument is what gets projected into the keyword graph.
type GraphDocument struct {
	AssetID   string
	Filename  string
	AssetType AssetType
	Keywords  []string
	Topics    []string
}

// SyncResult summarises one controller synchronisation pass.
type SyncResult struct {
	Controller string   `json:"controller"`
	Scanned    int      `json:"scanned"`
	Ingested   int      `json:"ingested"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}
