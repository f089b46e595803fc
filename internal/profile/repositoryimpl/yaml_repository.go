package repositoryimpl

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signetd/signet/internal/profile"
	"github.com/signetd/signet/pkg/cerr"
	"github.com/signetd/signet/pkg/storage"
)

// ProfilePath is where the profile lives relative to the storage root.
const ProfilePath = "profile.yaml"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func (r *YAMLRepository) Get(ctx context.Context) (*profile.Profile, error) {
	data, err := r.storage.Read(ctx, ProfilePath)
	if err != nil {
		wrapped := cerr.WrapStorageReadError("profile", err)
		if cerr.IsCode(wrapped, cerr.NotFound) {
			return &profile.Profile{}, nil
		}
		return nil, wrapped
	}
	var p profile.Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal profile: %w", err))
	}
	return &p, nil
}

func (r *YAMLRepository) Save(ctx context.Context, p *profile.Profile) error {
	p.UpdatedAt = time.Now()
	data, err := yaml.Marshal(p)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal profile: %w", err))
	}
	if err := r.storage.Write(ctx, ProfilePath, data); err != nil {
		return cerr.WrapStorageWriteError("profile", err)
	}
	return nil
}
