package social

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/matheus3301/nearby/internal/domain"
	"go.uber.org/zap"
)

const profileKey = "profile.self"

// profileFields are the keys a profile update may carry.
var profileFields = map[string]bool{
	"name":      true,
	"avatar":    true,
	"bio":       true,
	"interests": true,
	"age":       true,
	"gender":    true,
	"isOnline":  true,
	"lastSeen":  true,
	"location":  true,
}

// Profiles maintains the local user's profile document.
type Profiles struct {
	deps Deps
	mu   sync.Mutex
}

// NewProfiles creates the profile service.
func NewProfiles(d Deps) *Profiles {
	return &Profiles{deps: d}
}

// Publish writes the full profile to the backend, creating the document the
// first time and overwriting it afterwards.
func (p *Profiles) Publish(ctx context.Context, profile domain.Profile) error {
	profile.ID = p.deps.Self
	if profile.LastSeen.IsZero() {
		profile.LastSeen = p.deps.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.deps.Dispatcher.Dispatch(ctx, domain.EntityProfile, domain.OpCreate, profile); err != nil {
		return fmt.Errorf("publish profile: %w", err)
	}
	return p.saveLocked(profile)
}

// Update changes some fields of the profile. Unknown fields are rejected.
func (p *Profiles) Update(ctx context.Context, fields map[string]any) (domain.Profile, error) {
	if len(fields) == 0 {
		return domain.Profile{}, fmt.Errorf("no fields to update: %w", ErrInvalidArgument)
	}
	patch := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if !profileFields[k] {
			return domain.Profile{}, fmt.Errorf("profile field %q: %w", k, ErrInvalidArgument)
		}
		patch[k] = v
	}
	patch["id"] = p.deps.Self

	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.selfLocked()
	if err != nil {
		return domain.Profile{}, err
	}
	merged, err := mergeProfile(current, patch)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("merge profile: %v: %w", err, ErrInvalidArgument)
	}

	res, err := p.deps.Dispatcher.Dispatch(ctx, domain.EntityProfile, domain.OpUpdate, patch)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := p.saveLocked(merged); err != nil {
		p.deps.Logger.Error("failed to cache profile", zap.Error(err))
	}
	p.deps.Logger.Info("profile updated", zap.Int("fields", len(fields)), zap.Bool("queued", res.Queued))
	return merged, nil
}

// SetOnline flips the presence flag of the profile and refreshes lastSeen.
func (p *Profiles) SetOnline(ctx context.Context, online bool) error {
	_, err := p.Update(ctx, map[string]any{
		"isOnline": online,
		"lastSeen": stamp(p.deps.now()),
	})
	return err
}

// Self returns the cached profile of the local user.
func (p *Profiles) Self() (domain.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selfLocked()
}

func (p *Profiles) selfLocked() (domain.Profile, error) {
	raw, ok, err := p.deps.DB.Get(profileKey)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	profile := domain.Profile{ID: p.deps.Self}
	if !ok {
		return profile, nil
	}
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		p.deps.Logger.Warn("cached profile corrupt, ignoring", zap.Error(err))
		return domain.Profile{ID: p.deps.Self}, nil
	}
	return profile, nil
}

func (p *Profiles) saveLocked(profile domain.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return p.deps.DB.Set(profileKey, string(data))
}

// mergeProfile applies a patch through the JSON shape of the profile so that
// field names match the backend document.
func mergeProfile(base domain.Profile, patch map[string]any) (domain.Profile, error) {
	data, err := json.Marshal(base)
	if err != nil {
		return base, err
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(data, &doc); err != nil {
		return base, err
	}
	for k, v := range patch {
		doc[k] = v
	}
	if data, err = json.Marshal(doc); err != nil {
		return base, err
	}
	var out domain.Profile
	if err := json.Unmarshal(data, &out); err != nil {
		return base, err
	}
	return out, nil
}
