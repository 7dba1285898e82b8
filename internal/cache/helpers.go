package cache

import "strings"

// GetOrLoad returns the cached value for key, or calls load and caches its
// result. Concurrent callers missing the same key share one load. A load
// error is returned as is and nothing is cached.
func GetOrLoad[V any](s *Store[V], key string, load func() (V, error), opts ...SetOption) (V, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	res, err, _ := s.loads.Do(key, func() (any, error) {
		// a load that finished while this caller waited already stored it
		if v, ok := s.peek(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		s.Set(key, v, opts...)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V) // a nil load result stays the zero value
	return v, nil
}

// Financial data kinds used in cache keys.
const (
	KindMetrics  = "metrics"
	KindDocument = "document"
	KindAnalysis = "analysis"
)

// FinancialKey builds "financial:<kind>:<companyID>:<params joined by ':'>".
func FinancialKey(kind, companyID string, params ...string) string {
	return "financial:" + kind + ":" + companyID + ":" + strings.Join(params, ":")
}
