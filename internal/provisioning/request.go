package provisioning

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/workflow"
)

// guestNamePattern matches names that are valid hostnames and proxy
// server names at the same time.
var guestNamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

var seedPattern = regexp.MustCompile(`^[^\r\n=]*$`)

// Request asks for a new guest cloned from SourceGuestID.
type Request struct {
	OwnerID       string `json:"ownerId"`
	SourceGuestID int    `json:"sourceGuestId"`
	Name          string `json:"name"`
	Seed          string `json:"seed,omitempty"`

	// TargetNode overrides the configured placement node.
	TargetNode string `json:"targetNode,omitempty"`
	// NewID requests a specific guest id; zero lets the hypervisor pick.
	NewID int `json:"newId,omitempty"`
	// Token is the client's idempotency token for live progress. Generated
	// when empty.
	Token string `json:"token,omitempty"`
}

// Validate implements validation.Validatable.
func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OwnerID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.SourceGuestID, validation.Required, validation.Min(100)),
		validation.Field(&r.Name, validation.Required, validation.Match(guestNamePattern).
			Error("must be a hostname label (letters, digits and dashes)")),
		validation.Field(&r.Seed, validation.Length(0, 64), validation.Match(seedPattern).
			Error("must be a single line without '='")),
		validation.Field(&r.NewID, validation.When(r.NewID != 0, validation.Min(100), validation.Max(999999999))),
		validation.Field(&r.Token, validation.When(r.Token != "",
			validation.By(func(any) error {
				if !progress.ValidToken(r.Token) {
					return validation.NewError("validation_token", "must be a UUID")
				}
				return nil
			}))),
	)
}

// StepResults reports which post-clone steps succeeded.
type StepResults struct {
	Cloned           bool `json:"cloned"`
	AddressReserved  bool `json:"addressReserved"`
	Migrated         bool `json:"migrated"`
	Started          bool `json:"started"`
	RemoteConfigured bool `json:"remoteConfigured"`
	WorldConfigured  bool `json:"worldConfigured"`
	ProxyRegistered  bool `json:"proxyRegistered"`
}

// StepWarning is a best-effort step that did not succeed.
type StepWarning struct {
	Step    workflow.Step `json:"step"`
	Message string        `json:"message"`
}

// Outcome is the result of Provision and Resume. It is returned alongside
// errors and always carries the best-known guest id.
type Outcome struct {
	GuestID  int             `json:"guestId,omitempty"`
	Token    string          `json:"token"`
	Status   workflow.Status `json:"status,omitempty"`
	Step     workflow.Step   `json:"step,omitempty"`
	Address  string          `json:"address,omitempty"`
	CanRetry bool            `json:"canRetry"`
	Message  string          `json:"message,omitempty"`
	Steps    StepResults     `json:"steps"`
	Warnings []StepWarning   `json:"warnings,omitempty"`
}

func (o *Outcome) sync(w *workflow.Workflow) {
	o.GuestID = w.GuestID
	o.Status = w.Status
	o.Step = w.CurrentStep
	o.Address = w.AssignedAddress
	o.Message = w.ErrorMessage
	o.Steps = StepResults{
		Cloned:           w.Cloned,
		AddressReserved:  w.AddressReserved,
		Migrated:         w.Migrated,
		Started:          w.Started,
		RemoteConfigured: w.RemoteConfigured,
		WorldConfigured:  w.WorldConfigured,
		ProxyRegistered:  w.ProxyRegistered,
	}
}

func (o *Outcome) warn(step workflow.Step, err error) {
	o.Warnings = append(o.Warnings, StepWarning{Step: step, Message: err.Error()})
}
