package types

// Share is one record of GET /api/extractors/{id}/shares.
type Share struct {
	ID                   int64  `json:"id" validate:"required"`
	ExtractorID          int64  `json:"extractor_id"`
	SharedWithUserID     int64  `json:"shared_with_user_id" validate:"required"`
	SharedWithUserNameEN string `json:"shared_with_user_name_en"`
	SharedWithUserNameAR string `json:"shared_with_user_name_ar"`
	CanEdit              bool   `json:"can_edit"`
	SharedAt             string `json:"shared_at"`
}

type ShareRequest struct {
	UserID  int64 `json:"user_id"`
	CanEdit bool  `json:"can_edit"`
}

const (
	MinRating = 1
	MaxRating = 5
)

type Rating struct {
	ID          int64   `json:"id" validate:"required"`
	ExtractorID int64   `json:"extractor_id"`
	UserID      int64   `json:"user_id"`
	UserNameEN  string  `json:"user_name_en"`
	UserNameAR  string  `json:"user_name_ar"`
	Rating      int     `json:"rating" validate:"min=1,max=5"`
	Review      *string `json:"review"`
	CreatedAt   string  `json:"created_at"`
}

type RatingRequest struct {
	Rating int     `json:"rating"`
	Review *string `json:"review,omitempty"`
}

// Job is one extraction run as the backend recorded it.
type Job struct {
	ID               int64   `json:"id"`
	JobID            string  `json:"job_id" validate:"required"`
	UserID           int64   `json:"user_id"`
	UserName         string  `json:"user_name"`
	ExtractorID      int64   `json:"extractor_id"`
	ExtractorName    string  `json:"extractor_name"`
	FileName         string  `json:"file_name"`
	Status           string  `json:"status" validate:"required"`
	ResultText       *string `json:"result_text"`
	ErrorMessage     *string `json:"error_message"`
	CreatedAt        string  `json:"created_at"`
	CompletedAt      *string `json:"completed_at"`
	PromptTokens     *int64  `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64  `json:"completion_tokens,omitempty"`
	TotalTokens      *int64  `json:"total_tokens,omitempty"`
	CachedTokens     *int64  `json:"cached_tokens,omitempty"`
	ModelUsed        *string `json:"model_used,omitempty"`
	IsCachedResult   bool    `json:"is_cached_result"`
}

type JobList struct {
	Total int64 `json:"total" validate:"min=0"`
	Jobs  []Job `json:"jobs" validate:"dive"`
}

// JobQuery filters GET /api/jobs. Zero fields are left out of the query.
type JobQuery struct {
	ExtractorID int64
	Status      string
	Limit       int `validate:"min=0,max=200"`
	Offset      int `validate:"min=0"`
}

type ExtractorRank struct {
	ID          int64    `json:"id"`
	NameEN      string   `json:"name_en"`
	NameAR      string   `json:"name_ar"`
	Icon        string   `json:"icon"`
	OwnerNameEN string   `json:"owner_name_en"`
	OwnerNameAR string   `json:"owner_name_ar"`
	UsageCount  int64    `json:"usage_count"`
	RatingAvg   *float64 `json:"rating_avg"`
	RatingCount int64    `json:"rating_count"`
}

type UserRank struct {
	ID             int64    `json:"id"`
	FullNameEN     string   `json:"full_name_en"`
	FullNameAR     string   `json:"full_name_ar"`
	DepartmentEN   string   `json:"department_en"`
	DepartmentAR   string   `json:"department_ar"`
	ExtractorCount int64    `json:"extractor_count"`
	TotalUsage     int64    `json:"total_usage"`
	RatingAvg      *float64 `json:"rating_avg"`
	RatingCount    int64    `json:"rating_count"`
}

type DepartmentRank struct {
	DepartmentEN   string   `json:"department_en"`
	DepartmentAR   string   `json:"department_ar"`
	UserCount      int64    `json:"user_count"`
	ExtractorCount int64    `json:"extractor_count"`
	TotalUsage     int64    `json:"total_usage"`
	RatingAvg      *float64 `json:"rating_avg"`
	RatingCount    int64    `json:"rating_count"`
}

// Leaderboard is the reply of GET /api/leaderboard: eight top-N lists.
type Leaderboard struct {
	TopExtractorsByUsage           []ExtractorRank  `json:"top_extractors_by_usage" validate:"required"`
	TopExtractorsByRating          []ExtractorRank  `json:"top_extractors_by_rating" validate:"required"`
	TopUsersByExtractorCount       []UserRank       `json:"top_users_by_extractor_count" validate:"required"`
	TopUsersByUsage                []UserRank       `json:"top_users_by_usage" validate:"required"`
	TopUsersByRating               []UserRank       `json:"top_users_by_rating" validate:"required"`
	TopDepartmentsByExtractorCount []DepartmentRank `json:"top_departments_by_extractor_count" validate:"required"`
	TopDepartmentsByUsage          []DepartmentRank `json:"top_departments_by_usage" validate:"required"`
	TopDepartmentsByRating         []DepartmentRank `json:"top_departments_by_rating" validate:"required"`
}
