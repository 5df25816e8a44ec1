package domain

import "time"

type FieldType string

const (
	FieldCheckbox FieldType = "checkbox"
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldFile     FieldType = "file"
	FieldSelector FieldType = "selector"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldCheckbox, FieldText, FieldNumber, FieldDate, FieldFile, FieldSelector:
		return true
	}
	return false
}

// Status is shared by phases and checkpoints.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

type ProjectType string

const (
	ProjectCommercial  ProjectType = "commercial"
	ProjectResidential ProjectType = "residential"
	ProjectIndustrial  ProjectType = "industrial"
)

func (t ProjectType) Valid() bool {
	switch t {
	case ProjectCommercial, ProjectResidential, ProjectIndustrial:
		return true
	}
	return false
}

type Field struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Value    Value     `json:"value"`
	Options  []string  `json:"options,omitempty"`
	Required bool      `json:"required"`
}

// Accepts reports whether v is a legal value for the field's type. Null is
// accepted for every type; selector values must be one of Options.
func (f Field) Accepts(v Value) bool {
	if v.IsNull() {
		return true
	}
	switch f.Type {
	case FieldCheckbox:
		return v.Kind() == KindBool
	case FieldText, FieldFile:
		return v.Kind() == KindString
	case FieldNumber:
		return v.Kind() == KindNumber
	case FieldDate:
		return v.Kind() == KindTimestamp
	case FieldSelector:
		s, ok := v.AsString()
		if !ok {
			return false
		}
		for _, opt := range f.Options {
			if opt == s {
				return true
			}
		}
		return false
	}
	return false
}

type Checkpoint struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Notes  string  `json:"notes,omitempty"`
	Status Status  `json:"status"`
	Fields []Field `json:"fields"`
}

type Phase struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Objective       string       `json:"objective"`
	ClosingCriteria string       `json:"closingCriteria"`
	Status          Status       `json:"status"`
	Checkpoints     []Checkpoint `json:"checkpoints"`
}

// Project is the persisted document. Phases is the only collection the
// progress engine reads; the remaining collections are carried verbatim.
type Project struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Address        string           `json:"address"`
	Client         string           `json:"client"`
	StartDate      time.Time        `json:"startDate"`
	ProjectType    ProjectType      `json:"projectType"`
	CoverPhotoURL  string           `json:"coverPhotoUrl"`
	CoverPhotoHint string           `json:"coverPhotoHint"`
	Phases         []Phase          `json:"phases"`
	Tasks          []Task           `json:"tasks"`
	Photos         []Photo          `json:"photos"`
	Visits         []Visit          `json:"visits"`
	Files          []FileAttachment `json:"files"`
	Subcontractors []Subcontractor  `json:"subcontractors"`
}

type Assignee struct {
	Name     string `json:"name"`
	Initials string `json:"initials"`
}

type Task struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Assignee    Assignee `json:"assignee"`
	Priority    string   `json:"priority"`
	Completed   bool     `json:"completed"`
}

type Photo struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Hint       string    `json:"hint"`
	Comment    string    `json:"comment"`
	CapturedAt time.Time `json:"capturedAt"`
}

type Visit struct {
	ID           string    `json:"id"`
	Date         time.Time `json:"date"`
	Phase        string    `json:"phase"`
	Attendees    []string  `json:"attendees"`
	Observations string    `json:"observations"`
}

type FileAttachment struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	FileType   string    `json:"fileType"`
	UploadedAt time.Time `json:"uploadedAt"`
	Phase      string    `json:"phase"`
}

type Subcontractor struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Trade   string `json:"trade"`
	Contact string `json:"contact"`
}
