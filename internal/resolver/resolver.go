// Package resolver resolves astronomical object names to coordinates.
//
// Resolution tries, in order: an in-memory cache, the built-in solar-system
// ephemeris, and a SIMBAD TAP query. Solar-system results are never cached
// since the bodies move. When nothing matches, name-variation alternatives
// (Messier/NGC cross references, partial solar-body matches) are suggested.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/unklstewy/seestar-bridge/internal/models"
	"go.uber.org/zap"
)

// TargetResolver is the lookup interface consumed by the tool-dispatch
// layer. The telescope engine itself never resolves names; it only accepts
// resolved coordinates.
type TargetResolver interface {
	Resolve(ctx context.Context, name string) (models.TargetSearchResult, error)
}

// DefaultSimbadURL is the SIMBAD TAP synchronous query endpoint.
const DefaultSimbadURL = "http://simbad.cds.unistra.fr/simbad/sim-tap/sync"

// Clock abstracts the resolver's time source so ephemeris results are
// testable at fixed instants.
type Clock func() time.Time

// Resolver implements TargetResolver.
type Resolver struct {
	httpClient *http.Client
	simbadURL  string
	logger     *zap.Logger
	now        Clock

	mu    sync.Mutex
	cache map[string]models.Target
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSimbadURL overrides the SIMBAD endpoint, used by tests to point at a
// local stub server.
func WithSimbadURL(u string) Option {
	return func(r *Resolver) { r.simbadURL = u }
}

// WithClock overrides the resolver's time source.
func WithClock(c Clock) Option {
	return func(r *Resolver) { r.now = c }
}

// New creates a resolver.
func New(logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Resolver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		simbadURL:  DefaultSimbadURL,
		logger:     logger.With(zap.String("component", "resolver")),
		now:        time.Now,
		cache:      make(map[string]models.Target),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up a target name. A failed lookup is not an error: the
// result carries found=false plus alternative suggestions. Errors are
// reserved for request construction failures.
func (r *Resolver) Resolve(ctx context.Context, name string) (models.TargetSearchResult, error) {
	name = strings.TrimSpace(name)
	result := models.TargetSearchResult{SearchQuery: name}
	if name == "" {
		return result, fmt.Errorf("empty target name")
	}

	r.logger.Info("Resolving target", zap.String("target", name))

	key := strings.ToLower(name)
	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		r.logger.Debug("Cache hit", zap.String("target", name))
		result.Found = true
		result.Target = &cached
		return result, nil
	}

	// Solar-system bodies move; resolve fresh every time, never cache.
	if target, err := solarSystemTarget(name, r.now()); err != nil {
		r.logger.Warn("Solar system resolution failed", zap.String("target", name), zap.Error(err))
	} else if target != nil {
		result.Found = true
		result.Target = target
		return result, nil
	}

	if target := r.resolveSimbad(ctx, name); target != nil {
		r.mu.Lock()
		r.cache[key] = *target
		r.mu.Unlock()
		result.Found = true
		result.Target = target
		return result, nil
	}

	result.Alternatives = findAlternatives(name)
	return result, nil
}

// simbadResponse is the subset of the TAP JSON reply the resolver reads.
type simbadResponse struct {
	Data [][]interface{} `json:"data"`
}

// resolveSimbad queries the SIMBAD TAP service. Returns nil on any failure;
// resolution falls through to alternatives.
func (r *Resolver) resolveSimbad(ctx context.Context, name string) *models.Target {
	query := fmt.Sprintf(`SELECT TOP 1 basic.main_id, basic.ra, basic.dec, basic.otype_txt
FROM basic JOIN ident ON ident.oidref = basic.oid
WHERE ident.id = '%s'`, strings.ReplaceAll(name, "'", "''"))

	params := url.Values{}
	params.Set("request", "doQuery")
	params.Set("lang", "adql")
	params.Set("format", "json")
	params.Set("query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.simbadURL+"?"+params.Encode(), nil)
	if err != nil {
		r.logger.Warn("Failed to build SIMBAD request", zap.Error(err))
		return nil
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("SIMBAD query failed", zap.String("target", name), zap.Error(err))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("SIMBAD query returned non-OK status",
			zap.String("target", name),
			zap.Int("status", resp.StatusCode))
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Warn("Failed to read SIMBAD response", zap.Error(err))
		return nil
	}

	var tap simbadResponse
	if err := json.Unmarshal(body, &tap); err != nil {
		r.logger.Warn("Failed to parse SIMBAD response", zap.Error(err))
		return nil
	}
	if len(tap.Data) == 0 || len(tap.Data[0]) < 3 {
		return nil
	}

	row := tap.Data[0]
	mainID, _ := row[0].(string)
	raDeg, raOK := row[1].(float64)
	dec, decOK := row[2].(float64)
	if !raOK || !decOK {
		return nil
	}

	target := &models.Target{
		Name: mainID,
		Coordinates: models.Coordinates{
			RA:    raDeg / 15.0, // SIMBAD reports RA in degrees
			Dec:   dec,
			Epoch: "J2000",
		},
	}
	if len(row) > 3 {
		if otype, ok := row[3].(string); ok {
			target.ObjectType = otype
		}
	}
	return target
}

// solarBodies is the fixed word list used both for alternative suggestions
// and (in the seestar engine) for the solar-target heuristic.
var solarBodies = []string{
	"sun", "moon", "mercury", "venus", "mars",
	"jupiter", "saturn", "uranus", "neptune", "pluto",
}

// messierToNGC maps common Messier designations to NGC numbers.
var messierToNGC = map[int]int{
	1: 1952, 31: 224, 42: 1976, 45: 1432, 51: 5194,
	57: 6720, 81: 3031, 82: 3034, 101: 5457, 104: 4594,
}

var ngcToMessier = func() map[int]int {
	m := make(map[int]int, len(messierToNGC))
	for messier, ngc := range messierToNGC {
		m[ngc] = messier
	}
	return m
}()

// findAlternatives suggests up to five name variations for a failed lookup.
func findAlternatives(name string) []string {
	var alternatives []string
	seen := make(map[string]bool)
	add := func(alt string) {
		if alt != "" && alt != name && !seen[alt] {
			seen[alt] = true
			alternatives = append(alternatives, alt)
		}
	}

	lower := strings.ToLower(strings.TrimSpace(name))
	for _, body := range solarBodies {
		if strings.Contains(body, lower) || strings.Contains(lower, body) {
			add(strings.ToUpper(body[:1]) + body[1:])
		}
	}

	upper := strings.ToUpper(name)
	if strings.HasPrefix(upper, "M") {
		if num, err := strconv.Atoi(strings.TrimSpace(name[1:])); err == nil {
			add(fmt.Sprintf("Messier %d", num))
			if ngc, ok := messierToNGC[num]; ok {
				add(fmt.Sprintf("NGC %d", ngc))
			}
		}
	}
	if strings.HasPrefix(upper, "NGC") {
		if num, err := strconv.Atoi(strings.TrimSpace(name[3:])); err == nil {
			if messier, ok := ngcToMessier[num]; ok {
				add(fmt.Sprintf("M%d", messier))
			}
		}
	}

	if len(alternatives) > 5 {
		alternatives = alternatives[:5]
	}
	return alternatives
}

// CachedTargets lists cached target names.
func (r *Resolver) CachedTargets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.cache))
	for name := range r.cache {
		names = append(names, name)
	}
	return names
}

// ClearCache empties the resolution cache.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]models.Target)
	r.logger.Info("Target cache cleared")
}
