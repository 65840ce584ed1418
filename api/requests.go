package api

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"todoless/domain"
)

type createUserRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

type updateRoleRequest struct {
	Role domain.Role `json:"role" validate:"required,oneof=admin restricted"`
}

type createTaskRequest struct {
	Title      string            `json:"title" validate:"required,max=200"`
	Notes      string            `json:"notes" validate:"max=10000"`
	Status     domain.TaskStatus `json:"status" validate:"omitempty,oneof=todo doing done"`
	AssigneeID string            `json:"assigneeId" validate:"max=128"`
	WorkflowID string            `json:"workflowId" validate:"max=128"`
	Stage      string            `json:"stage" validate:"max=100"`
	DueAt      *time.Time        `json:"dueAt"`
	Order      int               `json:"order"`
	Shared     *bool             `json:"shared"`
	LabelIDs   []string          `json:"labelIds" validate:"max=50,dive,required,max=128"`
}

// updateTaskRequest is a partial update; nil fields are left unchanged. An
// empty string clears assigneeId, workflowId, stage and dueAt.
type updateTaskRequest struct {
	Title      *string            `json:"title" validate:"omitempty,min=1,max=200"`
	Notes      *string            `json:"notes" validate:"omitempty,max=10000"`
	Status     *domain.TaskStatus `json:"status" validate:"omitempty,oneof=todo doing done"`
	AssigneeID *string            `json:"assigneeId" validate:"omitempty,max=128"`
	WorkflowID *string            `json:"workflowId" validate:"omitempty,max=128"`
	Stage      *string            `json:"stage" validate:"omitempty,max=100"`
	DueAt      *string            `json:"dueAt"`
	Order      *int               `json:"order"`
	Shared     *bool              `json:"shared"`
	LabelIDs   *[]string          `json:"labelIds" validate:"omitempty,max=50,dive,required,max=128"`
}

type createNoteRequest struct {
	Title    string   `json:"title" validate:"required,max=200"`
	Body     string   `json:"body" validate:"max=100000"`
	Pinned   bool     `json:"pinned"`
	Shared   *bool    `json:"shared"`
	LabelIDs []string `json:"labelIds" validate:"max=50,dive,required,max=128"`
}

type updateNoteRequest struct {
	Title    *string   `json:"title" validate:"omitempty,min=1,max=200"`
	Body     *string   `json:"body" validate:"omitempty,max=100000"`
	Pinned   *bool     `json:"pinned"`
	Shared   *bool     `json:"shared"`
	LabelIDs *[]string `json:"labelIds" validate:"omitempty,max=50,dive,required,max=128"`
}

type createLabelRequest struct {
	Name   string `json:"name" validate:"required,max=60"`
	Color  string `json:"color" validate:"omitempty,hexcolor"`
	Shared *bool  `json:"shared"`
}

type updateLabelRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=60"`
	Color *string `json:"color" validate:"omitempty,hexcolor"`
}

type setSharedRequest struct {
	Shared *bool `json:"shared" validate:"required"`
}

type workflowRequest struct {
	Name   string   `json:"name" validate:"required,max=100"`
	Stages []string `json:"stages" validate:"required,min=1,max=20,unique,dive,required,max=100"`
	Shared *bool    `json:"shared"`
}

type filterRequest struct {
	Name  string           `json:"name" validate:"required,max=100"`
	Query domain.TaskQuery `json:"query"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError flattens validator output into one ErrInvalid.
func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", domain.ErrInvalid, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalid, strings.Join(parts, "; "))
}
