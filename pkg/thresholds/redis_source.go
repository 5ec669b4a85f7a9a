package thresholds

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/redis/go-redis/v9"
)

func sortVersions(vs []*semver.Version) {
	sort.Sort(semver.Collection(vs))
}

// RedisSource reads pack documents published to Redis by the external
// governance process. The engine only ever consumes versions from here;
// it never writes thresholds back.
//
// Key layout: <prefix>:versions is a set of published version strings,
// <prefix>:pack:<version> holds the YAML document.
type RedisSource struct {
	client *redis.Client
	prefix string
}

// NewRedisSource connects a source to a Redis instance.
func NewRedisSource(addr, password string, db int, prefix string) *RedisSource {
	if prefix == "" {
		prefix = "spine:thresholds"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSource{client: rdb, prefix: prefix}
}

// NewRedisSourceFromClient wraps an existing client, used by tests.
func NewRedisSourceFromClient(client *redis.Client, prefix string) *RedisSource {
	if prefix == "" {
		prefix = "spine:thresholds"
	}
	return &RedisSource{client: client, prefix: prefix}
}

func (s *RedisSource) versionsKey() string { return s.prefix + ":versions" }

func (s *RedisSource) packKey(version string) string {
	return fmt.Sprintf("%s:pack:%s", s.prefix, version)
}

// Publish stores a pack document and records its version. Publishing an
// already-published version is rejected: versions are immutable.
func (s *RedisSource) Publish(ctx context.Context, doc []byte) error {
	p, err := ParsePack(doc)
	if err != nil {
		return err
	}

	added, err := s.client.SAdd(ctx, s.versionsKey(), p.Version).Result()
	if err != nil {
		return fmt.Errorf("thresholds: redis publish %s: %w", p.Version, err)
	}
	if added == 0 {
		return fmt.Errorf("thresholds: version %s already published", p.Version)
	}

	if err := s.client.Set(ctx, s.packKey(p.Version), doc, 0).Err(); err != nil {
		return fmt.Errorf("thresholds: redis publish %s: %w", p.Version, err)
	}
	return nil
}

// Versions lists the published versions in ascending semver order.
func (s *RedisSource) Versions(ctx context.Context) ([]string, error) {
	raw, err := s.client.SMembers(ctx, s.versionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("thresholds: redis versions: %w", err)
	}

	parsed := make([]*semver.Version, 0, len(raw))
	for _, r := range raw {
		v, err := semver.NewVersion(r)
		if err != nil {
			return nil, fmt.Errorf("thresholds: redis holds malformed version %q: %w", r, err)
		}
		parsed = append(parsed, v)
	}
	sortVersions(parsed)

	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.Original()
	}
	return out, nil
}

// Fetch retrieves and parses one published pack version.
func (s *RedisSource) Fetch(ctx context.Context, version string) (*Pack, error) {
	doc, err := s.client.Get(ctx, s.packKey(version)).Bytes()
	if err == redis.Nil {
		return nil, &ResolutionError{Code: CodeUnknownConfigVersion, Version: version}
	}
	if err != nil {
		return nil, fmt.Errorf("thresholds: redis fetch %s: %w", version, err)
	}
	return ParsePack(doc)
}

// Sync pulls every published version the registry does not already hold.
func (r *Registry) Sync(ctx context.Context, src *RedisSource) error {
	versions, err := src.Versions(ctx)
	if err != nil {
		return err
	}

	r.mu.RLock()
	missing := make([]string, 0, len(versions))
	for _, v := range versions {
		if _, ok := r.packs[v]; !ok {
			missing = append(missing, v)
		}
	}
	r.mu.RUnlock()

	for _, v := range missing {
		p, err := src.Fetch(ctx, v)
		if err != nil {
			return err
		}
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
