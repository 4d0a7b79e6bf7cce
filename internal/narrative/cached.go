package narrative

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/domain"
)

// CachedNarrator memoizes another narrator's output.
type CachedNarrator struct {
	next   domain.Narrator
	cache  domain.TextCache
	logger *logrus.Logger
}

// NewCachedNarrator wraps next with cache.
func NewCachedNarrator(next domain.Narrator, cache domain.TextCache, logger *logrus.Logger) *CachedNarrator {
	return &CachedNarrator{next: next, cache: cache, logger: logger}
}

// Summarize implements domain.Narrator. Cache errors are logged and bypassed.
func (c *CachedNarrator) Summarize(ctx context.Context, in domain.NarrativeInput, audience domain.Audience) (string, error) {
	key := CacheKey(in, audience)

	if text, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.WithError(err).Warn("Narrative cache read failed")
	} else if ok {
		c.logger.WithFields(logrus.Fields{"audience": string(audience), "cache": "hit"}).Debug("Narrative served from cache")
		return text, nil
	}

	text, err := c.next.Summarize(ctx, in, audience)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, text); err != nil {
		c.logger.WithError(err).Warn("Narrative cache write failed")
	}
	return text, nil
}

// CacheKey is the SHA-256 of the audience and the full narrative input.
func CacheKey(in domain.NarrativeInput, audience domain.Audience) string {
	payload, _ := json.Marshal(struct {
		Audience domain.Audience       `json:"audience"`
		Input    domain.NarrativeInput `json:"input"`
	}{audience, in})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
