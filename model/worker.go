package model

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Worker is a roster entry: the person who receives a share of the distributed rows.
// Name doubles as the key of the worker's notification cursor.
type Worker struct {
	Name     string `json:"name"`
	SheetID  string `json:"sheet_id"`
	WhatsApp string `json:"whatsapp"`
}

func (w Worker) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.Name, validation.Required),
		validation.Field(&w.SheetID, validation.Required),
		validation.Field(&w.WhatsApp, validation.Required),
	)
}

// ValidateRoster checks every entry and rejects duplicate names, since two workers sharing a
// name would share a cursor.
func ValidateRoster(roster []Worker) error {
	if len(roster) == 0 {
		return fmt.Errorf("roster must contain at least one worker")
	}
	seen := make(map[string]struct{}, len(roster))
	for i, w := range roster {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("roster[%d]: %w", i, err)
		}
		key := strings.ToLower(strings.TrimSpace(w.Name))
		if _, ok := seen[key]; ok {
			return fmt.Errorf("roster[%d]: duplicate worker name %q", i, w.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}
