package bulk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/provider"
)

// Delete removes every selected object.
//
// Prefix handles (keys ending in "/") are expanded to the objects beneath
// them first; a prefix that cannot be listed is reported as one failure.
// Once the objects are gone the prefix markers themselves are deleted,
// deepest first. Removed markers land in Result.Markers and are not counted
// as objects; a marker that fails to delete is reported as a failure.
// Versioned handles delete that specific version.
func Delete(ctx context.Context, resolve provider.Resolver, handles []handle.Location, cfg Config) *Result {
	providers := &providerCache{resolve: resolve}
	del := func(ctx context.Context, loc handle.Location) error {
		p, err := providers.get(ctx, loc.Bucket)
		if err != nil {
			return err
		}
		return deleteOne(ctx, p, loc)
	}

	objects, markers, expandErrs := Expand(ctx, providers.get, handles)
	res := Run(ctx, ActionDelete, objects, del, cfg)

	if len(markers) > 0 {
		mcfg := cfg
		mcfg.Concurrency = 1
		mres := Run(ctx, ActionDelete, markers, del, mcfg)
		res.Markers = mres.Succeeded
		res.Total += len(mres.Failed)
		res.Failed = append(res.Failed, mres.Failed...)
		res.Duration += mres.Duration
	}

	if len(expandErrs) > 0 {
		res.Total += len(expandErrs)
		res.Failed = append(expandErrs, res.Failed...)
	}
	return res
}

// Expand splits handles into the objects to delete and the prefix markers to
// remove afterwards. Each prefix handle is replaced by the objects listed
// beneath it. Markers are ordered deepest first; the bucket root is never a
// marker.
func Expand(ctx context.Context, resolve provider.Resolver, handles []handle.Location) (objects, markers []handle.Location, failed []ItemError) {
	seen := make(map[handle.Location]bool, len(handles))
	add := func(dst *[]handle.Location, loc handle.Location) {
		if !seen[loc] {
			seen[loc] = true
			*dst = append(*dst, loc)
		}
	}

	for _, loc := range handles {
		if !loc.IsPrefix() {
			add(&objects, loc)
			continue
		}
		keys, err := listAll(ctx, resolve, loc)
		if err != nil {
			failed = append(failed, ItemError{Handle: loc, Err: err})
			continue
		}
		for _, k := range keys {
			add(&objects, handle.Location{Bucket: loc.Bucket, Key: k})
		}
		if loc.Key != "" {
			add(&markers, loc)
		}
	}

	sort.SliceStable(markers, func(i, j int) bool {
		return strings.Count(markers[i].Key, "/") > strings.Count(markers[j].Key, "/")
	})
	return objects, markers, failed
}

func listAll(ctx context.Context, resolve provider.Resolver, prefix handle.Location) ([]string, error) {
	p, err := resolve(ctx, prefix.Bucket)
	if err != nil {
		return nil, err
	}

	var keys []string
	token := ""
	for {
		res, err := p.List(ctx, provider.ListOptions{Prefix: prefix.Key, ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", prefix, err)
		}
		for _, obj := range res.Objects {
			if obj.Key != prefix.Key {
				keys = append(keys, obj.Key)
			}
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			return keys, nil
		}
		token = res.ContinuationToken
	}
}

func deleteOne(ctx context.Context, p provider.Provider, loc handle.Location) error {
	if loc.Version != "" {
		vd, ok := p.(provider.VersionDeleter)
		if !ok {
			return fmt.Errorf("delete version of %s: %w", loc, provider.ErrUnsupported)
		}
		return vd.DeleteObjectVersion(ctx, loc.Key, loc.Version)
	}
	d, ok := p.(provider.ObjectDeleter)
	if !ok {
		return fmt.Errorf("delete %s: %w", loc, provider.ErrUnsupported)
	}
	return d.DeleteObject(ctx, loc.Key)
}

// providerCache resolves each bucket once per bulk run.
type providerCache struct {
	resolve provider.Resolver

	mu sync.Mutex
	m  map[string]provider.Provider
}

func (c *providerCache) get(ctx context.Context, bucket string) (provider.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.m[bucket]; ok {
		return p, nil
	}
	p, err := c.resolve(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if c.m == nil {
		c.m = make(map[string]provider.Provider)
	}
	c.m[bucket] = p
	return p, nil
}
