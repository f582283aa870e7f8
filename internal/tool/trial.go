package tool

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"spdropbot/internal/domain"
)

// placeholderWords are values models invent when the customer has not given real data.
var placeholderWords = []string{"cliente", "usuario", "teste", "example", "00000", "11111", "nenhum", "indefinido"}

// TrialSignup is the data a customer must provide for a free trial.
type TrialSignup struct {
	FullName string
	CPF      string
	Phone    string
	Email    string
}

// Validate rejects malformed or placeholder sign-up data. The messages are
// addressed to the model so it asks the customer again.
func (s TrialSignup) Validate() error {
	name := strings.TrimSpace(s.FullName)
	if utf8.RuneCountInString(name) < 3 {
		return fmt.Errorf("%w: full name missing or too short, ask the customer for their real full name", ErrInvalidArgs)
	}
	if w := placeholderIn(name); w != "" {
		return fmt.Errorf("%w: full name %q looks like a placeholder, ask for the real name", ErrInvalidArgs, name)
	}

	cpf := digits(s.CPF)
	if len(cpf) != 11 {
		return fmt.Errorf("%w: CPF must have 11 digits, ask for the complete CPF", ErrInvalidArgs)
	}
	if strings.Contains(cpf, "00000") || strings.Contains(cpf, "11111") {
		return fmt.Errorf("%w: CPF %q looks like a placeholder, ask for the real CPF", ErrInvalidArgs, s.CPF)
	}

	phone := digits(s.Phone)
	if len(phone) < 10 {
		return fmt.Errorf("%w: phone must include area code and number (at least 10 digits)", ErrInvalidArgs)
	}
	if strings.Contains(phone, "0000") {
		return fmt.Errorf("%w: phone %q looks like a placeholder, ask for the real phone", ErrInvalidArgs, s.Phone)
	}

	email := strings.TrimSpace(s.Email)
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return fmt.Errorf("%w: invalid e-mail, ask for the complete e-mail address", ErrInvalidArgs)
	}
	if w := placeholderIn(email); w != "" {
		return fmt.Errorf("%w: e-mail %q looks like a placeholder, ask for the real e-mail", ErrInvalidArgs, email)
	}
	return nil
}

func placeholderIn(s string) string {
	lower := strings.ToLower(s)
	for _, w := range placeholderWords {
		if strings.Contains(lower, w) {
			return w
		}
	}
	return ""
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CreateTrialTool signs a customer up for the 7-day free trial.
type CreateTrialTool struct {
	store domain.TrialStore
}

func NewCreateTrialTool(store domain.TrialStore) *CreateTrialTool {
	return &CreateTrialTool{store: store}
}

func (t *CreateTrialTool) Name() string { return "create_trial" }
func (t *CreateTrialTool) Description() string {
	return "Create a 7-day free trial. Only call this once the customer has given ALL four real values: " +
		"full name, CPF, phone and e-mail. Never invent or use placeholder data."
}
func (t *CreateTrialTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"customer_id": {Type: "integer", Description: "Customer id from the [CONTEXT] line"},
			"full_name":   {Type: "string", Description: "Customer's real full name, e.g. João Silva"},
			"cpf":         {Type: "string", Description: "CPF, e.g. 123.456.789-09"},
			"phone":       {Type: "string", Description: "Phone with area code, e.g. 11 98765-4321"},
			"email":       {Type: "string", Description: "E-mail address"},
			"notes":       {Type: "string", Description: "Optional notes about the customer"},
		},
		[]string{"customer_id", "full_name", "cpf", "phone", "email"},
	)
}

func (t *CreateTrialTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	customerID, err := requireCustomerID(args)
	if err != nil {
		return "", err
	}
	signup := TrialSignup{
		FullName: ArgsString(args, "full_name"),
		CPF:      ArgsString(args, "cpf"),
		Phone:    ArgsString(args, "phone"),
		Email:    ArgsString(args, "email"),
	}
	if err := signup.Validate(); err != nil {
		return "", err
	}

	trial, err := t.store.CreateTrial(ctx, domain.Trial{
		CustomerID: customerID,
		FullName:   strings.TrimSpace(signup.FullName),
		CPF:        strings.TrimSpace(signup.CPF),
		Phone:      strings.TrimSpace(signup.Phone),
		Email:      strings.TrimSpace(signup.Email),
		Notes:      strings.TrimSpace(ArgsString(args, "notes")),
	})
	if err != nil {
		return "", fmt.Errorf("create trial: %w", err)
	}
	return jsonResult(map[string]any{
		"success":     true,
		"trial_id":    trial.ID,
		"message":     fmt.Sprintf("Teste de 7 dias criado para %s!", trial.FullName),
		"trial_start": trial.StartedAt.Format(time.RFC3339),
		"trial_end":   trial.EndsAt.Format(time.RFC3339),
		"status":      trial.Status,
	})
}

// ListTrialsTool shows a customer's trials so the agent does not sign them up twice.
type ListTrialsTool struct {
	store domain.TrialStore
}

func NewListTrialsTool(store domain.TrialStore) *ListTrialsTool {
	return &ListTrialsTool{store: store}
}

func (t *ListTrialsTool) Name() string { return "list_trials" }
func (t *ListTrialsTool) Description() string {
	return "List the customer's free trials, newest first. Check this before offering a new trial."
}
func (t *ListTrialsTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"customer_id": {Type: "integer", Description: "Customer id from the [CONTEXT] line"},
			"status": {Type: "string", Description: "Only trials in this status",
				Enum: []string{string(domain.TrialActive), string(domain.TrialExpired), string(domain.TrialConverted), string(domain.TrialCancelled)}},
		},
		[]string{"customer_id"},
	)
}

func (t *ListTrialsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	customerID, err := requireCustomerID(args)
	if err != nil {
		return "", err
	}
	status := domain.TrialStatus(strings.TrimSpace(ArgsString(args, "status")))
	if status != "" && !status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgs, status)
	}

	trials, err := t.store.ListTrials(ctx, domain.TrialFilter{CustomerID: customerID, Status: status})
	if err != nil {
		return "", fmt.Errorf("list trials: %w", err)
	}
	if trials == nil {
		trials = []domain.Trial{}
	}
	return jsonResult(map[string]any{"success": true, "count": len(trials), "trials": trials})
}
