package models

// DocumentMetadata is a federal regulatory filing as stored in the
// federal_documents table.
type DocumentMetadata struct {
	DocID            string `json:"doc_id"`
	Title            string `json:"title"`
	AgencyID         string `json:"agencyId"`
	DocumentType     string `json:"documentType"`
	PostedDate       string `json:"postedDate"`
	ModifyDate       string `json:"modifyDate,omitempty"`
	DocketID         string `json:"docketId,omitempty"`
	OpenForComment   bool   `json:"openForComment"`
	CommentStartDate string `json:"commentStartDate,omitempty"`
	CommentEndDate   string `json:"commentEndDate,omitempty"`
	FRDocNum         string `json:"frDocNum,omitempty"`
	Summary          string `json:"summary,omitempty"`
	Relevant         bool   `json:"relevant"`
}

type DocumentListResponse struct {
	Documents []DocumentMetadata `json:"documents"`
	Count     int                `json:"count"`
}

// RelevanceUpdate is the body of the relevance flag update. Relevant is a
// pointer so a missing field can be told apart from false.
type RelevanceUpdate struct {
	Relevant *bool `json:"relevant"`
}

type RelevanceResponse struct {
	DocID    string `json:"doc_id"`
	Relevant bool   `json:"relevant"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
