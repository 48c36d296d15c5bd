package httpclient

import (
	"context"
	"time"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
)

// FallbackStrategy names one of the matching strategies a
// FallbackManager tries, in configured order, once retries are
// exhausted or the circuit is open.
type FallbackStrategy string

const (
	FallbackCache   FallbackStrategy = "cache"
	FallbackNetwork FallbackStrategy = "network"
	FallbackTimeout FallbackStrategy = "timeout"
	Fallback5xx     FallbackStrategy = "5xx"
	FallbackPartial FallbackStrategy = "partial"
)

// FallbackManager inspects the error raised by a failed call and
// decides whether a fallback strategy applies, in the order configured,
// via a type switch over the error taxonomy.
type FallbackManager struct {
	Strategies      []FallbackStrategy
	PartialRetryMax int
	// Attempts is the number of attempts the owning client makes before
	// giving a call up (retry total + 1); recorded on every fallback row
	// as fallback_attempt.
	Attempts int
	cache    ResponseCache
}

// NewFallbackManager builds a manager trying strategies in the given
// order and consulting cache (may be nil) for the "cache" strategy.
func NewFallbackManager(strategies []FallbackStrategy, partialRetryMax, attempts int, cache ResponseCache) *FallbackManager {
	return &FallbackManager{Strategies: strategies, PartialRetryMax: partialRetryMax, Attempts: attempts, cache: cache}
}

// StrategyFor resolves which configured strategy (if any) matches err.
func (m *FallbackManager) StrategyFor(err error) (FallbackStrategy, bool) {
	for _, s := range m.Strategies {
		switch s {
		case FallbackCache:
			if m.cache != nil {
				return FallbackCache, true
			}
		case FallbackNetwork:
			if _, ok := err.(*bioetlerrors.NetworkError); ok {
				return FallbackNetwork, true
			}
		case FallbackTimeout:
			if _, ok := err.(*bioetlerrors.TimeoutError); ok {
				return FallbackTimeout, true
			}
		case Fallback5xx:
			if he, ok := err.(*bioetlerrors.HTTPError); ok && he.Status >= 500 && he.Status < 600 {
				return Fallback5xx, true
			}
		case FallbackPartial:
			if _, ok := err.(*bioetlerrors.PartialResponseError); ok {
				return FallbackPartial, true
			}
		}
	}
	return "", false
}

// Resolve produces a FallbackRecord for businessKey given the matched
// strategy and the triggering error. The "cache" strategy returns the
// last cached payload for cacheKey, if present, under
// fallback_cached_payload; every other strategy
// produces a deterministic placeholder row with fallback_* fields
// populated from the error.
func (m *FallbackManager) Resolve(ctx context.Context, strategy FallbackStrategy, businessKey, cacheKey string, err error) common.FallbackRecord {
	now := time.Now().UTC()

	if strategy == FallbackCache && m.cache != nil {
		if entry, ok := m.cache.Get(ctx, cacheKey); ok {
			row := common.NewRecord()
			row.Set("fallback_reason", common.NewString(string(FallbackCache)))
			row.Set("fallback_cached_at", common.NewString(entry.CachedAt.UTC().Format(time.RFC3339)))
			row.Set("fallback_cached_payload", common.NewEncoded(string(entry.Body)))
			return common.FallbackRecord{
				BusinessKey: businessKey,
				Reason:      string(FallbackCache),
				SourceKind:  "cache",
				CapturedAt:  now,
				Row:         row,
			}
		}
	}

	row := common.NewRecord()
	row.Set("fallback_reason", common.NewString(string(strategy)))
	row.Set("fallback_error_type", common.NewString(errorTypeOf(err)))
	row.Set("fallback_timestamp", common.NewString(now.Format(time.RFC3339)))
	if m.Attempts > 0 {
		row.Set("fallback_attempt", common.NewInt(int64(m.Attempts)))
	}

	if he, ok := err.(*bioetlerrors.HTTPError); ok {
		row.Set("fallback_http_status", common.NewInt(int64(he.Status)))
		if he.RetryAfter != "" {
			row.Set("fallback_retry_after_sec", common.NewString(he.RetryAfter))
		}
	}

	return common.FallbackRecord{
		BusinessKey: businessKey,
		Reason:      string(strategy),
		SourceKind:  "placeholder",
		CapturedAt:  now,
		Row:         row,
	}
}

// RetryPartial drives the "partial" strategy: fetch is re-invoked with
// the continuation token each PartialResponseError carries, advancing
// the page state until the upstream completes or PartialRetryMax
// continuations are exhausted. Any non-partial error ends the loop
// immediately.
func (m *FallbackManager) RetryPartial(ctx context.Context, initial *bioetlerrors.PartialResponseError, fetch func(ctx context.Context, pageState string) error) error {
	pErr := initial
	for attempt := 0; attempt < m.PartialRetryMax; attempt++ {
		err := fetch(ctx, pErr.ContinuationID)
		if err == nil {
			return nil
		}
		next, ok := err.(*bioetlerrors.PartialResponseError)
		if !ok {
			return err
		}
		pErr = next
	}
	return pErr
}

// errorTypeOf names the taxonomy kind of err for the
// fallback_error_type column.
func errorTypeOf(err error) string {
	switch err.(type) {
	case *bioetlerrors.NetworkError:
		return "network"
	case *bioetlerrors.TimeoutError:
		return "timeout"
	case *bioetlerrors.HTTPError:
		return "http"
	case *bioetlerrors.CircuitOpenError:
		return "circuit_open"
	case *bioetlerrors.PartialResponseError:
		return "partial_response"
	case nil:
		return ""
	default:
		return "unknown"
	}
}
