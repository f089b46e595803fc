package repositoryimpl

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/signetd/signet/internal/website"
	"github.com/signetd/signet/pkg/cerr"
	"github.com/signetd/signet/pkg/storage"
)

const websitesPrefix = "websites"

// YAMLRepository stores per-domain records as YAML files keyed by the
// escaped domain.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(domain string) string {
	return fmt.Sprintf("%s/%s.yaml", websitesPrefix, url.PathEscape(domain))
}

func (r *YAMLRepository) Get(ctx context.Context, domain string) (*website.WebSite, error) {
	data, err := r.storage.Read(ctx, path(domain))
	if err != nil {
		return nil, cerr.WrapStorageReadError("website", err)
	}
	var site website.WebSite
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal website: %w", err))
	}
	return &site, nil
}

func (r *YAMLRepository) Upsert(ctx context.Context, site *website.WebSite) error {
	data, err := yaml.Marshal(site)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal website: %w", err))
	}
	if err := r.storage.Write(ctx, path(site.Domain), data); err != nil {
		return cerr.WrapStorageWriteError("website", err)
	}
	return nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*website.WebSite, error) {
	paths, err := r.storage.List(ctx, websitesPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("websites", err)
	}
	sort.Strings(paths)

	var sites []*website.WebSite
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var site website.WebSite
		if err := yaml.Unmarshal(data, &site); err != nil {
			continue
		}
		sites = append(sites, &site)
	}
	return sites, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, domain string) error {
	if err := r.storage.Delete(ctx, path(domain)); err != nil {
		return cerr.WrapStorageDeleteError("website", err)
	}
	return nil
}
