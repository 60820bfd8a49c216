package types

import "time"

type ChangeType string

const (
	ChangeCreated           ChangeType = "created"
	ChangeUpdated           ChangeType = "updated"
	ChangeDeleted           ChangeType = "deleted"
	ChangeVisibilityChanged ChangeType = "visibility_changed"
)

// Change is the decoded "changes" payload of a history record. The concrete
// type is selected by the record's change_type.
type Change interface {
	Type() ChangeType
}

type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type CreatedChange struct {
	Fields map[string]FieldChange `json:"fields,omitempty"`
	Notes  *string                `json:"notes,omitempty"`
}

func (CreatedChange) Type() ChangeType { return ChangeCreated }

type UpdatedChange struct {
	Fields map[string]FieldChange `json:"fields"`
	Notes  *string                `json:"notes"`
}

func (UpdatedChange) Type() ChangeType { return ChangeUpdated }

type DeletedChange struct {
	Notes *string `json:"notes,omitempty"`
}

func (DeletedChange) Type() ChangeType { return ChangeDeleted }

type VisibilityChange struct {
	From  Visibility `json:"from"`
	To    Visibility `json:"to"`
	Notes *string    `json:"notes,omitempty"`
}

func (VisibilityChange) Type() ChangeType { return ChangeVisibilityChanged }

type HistoryRecord struct {
	ID                  int64
	ChangeType          ChangeType
	ChangedByUserNameEN string
	ChangedByUserNameAR string
	ChangedAt           time.Time
	Changes             Change
}
