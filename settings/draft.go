package settings

import (
	"context"
	"sync"
)

// Draft is the editable copy behind the settings screens. Edits stay local
// until Apply validates and persists them in one step.
type Draft struct {
	mutex sync.Mutex
	value Settings
}

func NewDraft(base Settings) *Draft {
	return &Draft{value: base}
}

// Update runs fn against the draft. An error from fn leaves the draft untouched.
func (d *Draft) Update(fn func(*Settings) error) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	next := d.value
	if err := fn(&next); err != nil {
		return err
	}
	d.value = next
	return nil
}

func (d *Draft) Settings() Settings {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.value
}

// Apply validates the draft and saves it. Flows started afterwards use
// the returned value.
func (d *Draft) Apply(ctx context.Context, repo Repository) (Settings, error) {
	s := d.Settings()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	if err := repo.Save(ctx, s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
