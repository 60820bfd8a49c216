package types

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
)

// Extractor is one record of GET /api/extractors. ID is the mutable numeric
// row id; ExtractorID is the stable UUID used for extraction and caching.
type Extractor struct {
	ID                    int64      `json:"id" validate:"required"`
	ExtractorID           string     `json:"extractor_id" validate:"required,uuid"`
	NameEN                string     `json:"name_en"`
	NameAR                string     `json:"name_ar"`
	Icon                  string     `json:"icon"`
	DescriptionEN         *string    `json:"description_en,omitempty"`
	DescriptionAR         *string    `json:"description_ar,omitempty"`
	Prompt                *string    `json:"prompt,omitempty"`
	LLM                   string     `json:"llm"`
	Temperature           float64    `json:"temperature"`
	MaxTokens             int        `json:"max_tokens"`
	OutputFormat          string     `json:"output_format"`
	Visibility            Visibility `json:"visibility" validate:"required,oneof=public private shared"`
	OwnerID               int64      `json:"owner_id"`
	OwnerNameEN           string     `json:"owner_name_en"`
	OwnerNameAR           string     `json:"owner_name_ar"`
	OwnerDepartmentNameEN *string    `json:"owner_department_name_en,omitempty"`
	OwnerDepartmentNameAR *string    `json:"owner_department_name_ar,omitempty"`
	UsageCount            int64      `json:"usage_count"`
	RatingAvg             *float64   `json:"rating_avg"`
	RatingCount           int64      `json:"rating_count"`
	IsFavorited           bool       `json:"is_favorited"`
	CreatedAt             string     `json:"created_at"`
	UpdatedAt             string     `json:"updated_at" validate:"required"`
}

// VersionToken is the value that changes whenever the extractor is edited.
func (e *Extractor) VersionToken() string {
	return e.UpdatedAt
}

type APIKey struct {
	ID          int64  `json:"id"`
	ExtractorID int64  `json:"extractor_id"`
	APIKey      string `json:"api_key" validate:"required"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
	UsageCount  int64  `json:"usage_count"`
}

type APIKeyCreateResponse struct {
	APIKey  string `json:"api_key" validate:"required"`
	Message string `json:"message"`
}

type APIKeyToggleRequest struct {
	IsActive bool `json:"is_active"`
}
