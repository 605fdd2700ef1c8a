// Package syncq spools registration events on disk when the API is
// unreachable, so an operator can replay them later with `upl sync`.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type Event struct {
	UserID       string `json:"user_id"`
	ReferralCode string `json:"referral_code,omitempty"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".upl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Event, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Event{}, nil
	}
	var out []Event
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(events []Event) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(ev Event) error {
	events, err := Load()
	if err != nil {
		return err
	}
	events = append(events, ev)
	return Save(events)
}
