// Package envset resolves the bot's secrets file into an explicit environment
// set. Equivalent variable names are aliased to a canonical name, and the
// result is handed to child processes as a value, never by mutating the
// ambient process environment.
package envset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/joho/godotenv"
)

// Group defines one canonical variable and the alternate names operators have
// used for it over time. When several names are set, the first declared wins.
type Group struct {
	Canonical string
	Aliases   []string
	Required  bool
	Provider  bool
}

// Groups is the fixed alias table. Order matters: Summary prints in this
// order, and within a group the canonical name takes priority over aliases.
var Groups = []Group{
	{Canonical: "TELEGRAM_BOT_TOKEN", Aliases: []string{"TELEGRAM_TOKEN", "BOT_TOKEN"}, Required: true},
	{Canonical: "TELEGRAM_CHAT_ID", Aliases: []string{"TELEGRAM_CHAT_IDS"}},
	{Canonical: "TWELVE_DATA_API_KEY", Aliases: []string{"TWELVEDATA_API_KEY", "TWELVEDATA_KEY"}, Provider: true},
	{Canonical: "EODHD_API_KEY", Aliases: []string{"EODHD_TOKEN", "EODHD_APITOKEN"}, Provider: true},
	{Canonical: "FINNHUB_API_KEY", Aliases: []string{"FINNHUB_KEY", "FINNHUB_TOKEN"}, Provider: true},
	{Canonical: "ALPHA_VANTAGE_API_KEY", Aliases: []string{"ALPHAVANTAGE_API_KEY"}, Provider: true},
	{Canonical: "NEWS_API_KEY", Aliases: []string{"NEWSAPI_KEY"}},
}

// Passthrough keys are copied verbatim when present; they tune the bot, not us.
var Passthrough = []string{"LOG_LEVEL", "LOG_DIR", "TZ", "SAFE_MODE"}

var (
	ErrMissingToken    = errors.New("TELEGRAM_BOT_TOKEN is not set")
	ErrMissingProvider = errors.New("no market-data provider key is set")
)

// Fallback is consulted for a canonical key that is absent from the secrets
// file, e.g. a token stored in the OS keyring.
type Fallback func(canonical string) (string, bool)

// Set is a resolved environment: canonical name to value. It is immutable
// after resolution; resolving the same inputs twice yields equal Sets.
type Set struct {
	values map[string]string
}

// Load reads a KEY=VALUE secrets file and resolves it.
func Load(path string) (*Set, error) {
	return LoadWithFallback(path, nil)
}

// LoadWithFallback reads the secrets file and resolves it, consulting the
// fallback for canonical keys the file does not provide.
func LoadWithFallback(path string, fallback Fallback) (*Set, error) {
	raw, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Resolve(raw, fallback)
}

// ReadFile reads a KEY=VALUE secrets file into raw, unresolved pairs.
func ReadFile(path string) (map[string]string, error) {
	raw, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secrets file %s not found (create it with KEY=VALUE lines): %w", path, err)
		}
		return nil, fmt.Errorf("unable to read secrets file %s: %w", path, err)
	}
	return raw, nil
}

// Resolve builds a Set from raw key/value pairs. It fails when the bot token
// is missing or when no market-data provider key is present.
func Resolve(raw map[string]string, fallback Fallback) (*Set, error) {
	set := Inspect(raw, fallback)
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Inspect builds a Set without validating it, for diagnostics that want to
// show what resolved even when required keys are absent.
func Inspect(raw map[string]string, fallback Fallback) *Set {
	values := make(map[string]string)

	for _, group := range Groups {
		if v, ok := firstSet(raw, group); ok {
			values[group.Canonical] = v
			continue
		}
		if fallback != nil {
			if v, ok := fallback(group.Canonical); ok && v != "" {
				values[group.Canonical] = v
			}
		}
	}

	for _, key := range Passthrough {
		if v, ok := raw[key]; ok && v != "" {
			values[key] = v
		}
	}

	return &Set{values: values}
}

// Validate checks the resolution invariants: the bot token must be present and
// at least one market-data provider key must have resolved.
func (s *Set) Validate() error {
	if !s.Has("TELEGRAM_BOT_TOKEN") {
		return fmt.Errorf("%w (expected TELEGRAM_BOT_TOKEN, TELEGRAM_TOKEN or BOT_TOKEN)", ErrMissingToken)
	}
	if len(s.Providers()) == 0 {
		return fmt.Errorf("%w (expected at least one of TWELVE_DATA_API_KEY, EODHD_API_KEY, FINNHUB_API_KEY, ALPHA_VANTAGE_API_KEY)", ErrMissingProvider)
	}
	return nil
}

func firstSet(raw map[string]string, group Group) (string, bool) {
	if v, ok := raw[group.Canonical]; ok && v != "" {
		return v, true
	}
	for _, alias := range group.Aliases {
		if v, ok := raw[alias]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Get returns the value for a canonical key, or "" when unset.
func (s *Set) Get(canonical string) string {
	return s.values[canonical]
}

func (s *Set) Has(canonical string) bool {
	return s.values[canonical] != ""
}

// Providers returns the canonical names of the market-data provider keys that
// resolved to a value, in declaration order.
func (s *Set) Providers() []string {
	var providers []string
	for _, group := range Groups {
		if group.Provider && s.Has(group.Canonical) {
			providers = append(providers, group.Canonical)
		}
	}
	return providers
}

// Environ appends the resolved variables to a base environment. Every alias
// in a resolved group is exported with the canonical value, so the bot finds
// the key under whichever name it reads. Later entries win in os/exec, so the
// resolved values override any base duplicates.
func (s *Set) Environ(base []string) []string {
	env := make([]string, len(base), len(base)+2*len(s.values))
	copy(env, base)

	for _, group := range Groups {
		v, ok := s.values[group.Canonical]
		if !ok {
			continue
		}
		env = append(env, group.Canonical+"="+v)
		for _, alias := range group.Aliases {
			env = append(env, alias+"="+v)
		}
	}
	for _, key := range Passthrough {
		if v, ok := s.values[key]; ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// Summary writes a SET/MISSING line per canonical key for operator
// visibility. Values are never printed.
func (s *Set) Summary(w io.Writer) {
	for _, group := range Groups {
		state := "MISSING"
		if s.Has(group.Canonical) {
			state = "SET"
		}
		fmt.Fprintf(w, "%s: %s\n", group.Canonical, state)
	}
	var extra []string
	for _, key := range Passthrough {
		if s.Has(key) {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		fmt.Fprintf(w, "%s: SET\n", key)
	}
}
