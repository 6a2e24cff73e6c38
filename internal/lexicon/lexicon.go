// Package lexicon holds the compiled legal vocabulary the rest of the engine
// matches queries and judgment text against: domain and issue recognisers,
// statute hook families, outcome polarity cues, synonym expansions, keyword
// packs, and the shared tokenizer. Tables are compiled once at startup and
// read through an atomic holder so an overlay reload never races a request.
package lexicon

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"precedent/internal/types"
)

// ============================================================================
// LEXICON
// ============================================================================

// Lexicon is an immutable snapshot of the engine's legal vocabulary. All
// phrase lists are stored pre-normalised (lowercase, punctuation folded).
// Mutating a snapshot after Compile is not supported; build a new one with
// Merge instead.
type Lexicon struct {
	// Domains maps a domain id (criminal, civil, limitation, ...) to the
	// phrases that indicate it.
	Domains map[string][]string

	// Issues maps a legal issue id (sanction_for_prosecution, ...) to its
	// trigger phrases.
	Issues map[string][]string

	// Statutes maps a hook family id to its aliases. By convention the
	// first alias is the full statute name and the second, when present,
	// is the common short form.
	Statutes map[string][]string

	// Procedures and Actors feed the intent profile.
	Procedures map[string][]string
	Actors     map[string][]string

	// Synonyms maps a term to interchangeable phrasings used by the
	// variant planner.
	Synonyms map[string][]string

	// KeywordPacks maps a domain id to retrieval keywords blended into
	// relaxed variants.
	KeywordPacks map[string][]string

	// Templates maps a domain id to browse-phase query templates. The ""
	// key holds generic templates. Placeholders: {issue}, {statute},
	// {domain}.
	Templates map[string][]string

	// PolarityCues and PolarityContradictions hold disposition phrases
	// keyed by the polarity they evidence (cues) or defeat
	// (contradictions). Consumers are responsible for rule ordering;
	// see intent.InferOutcomePolarity.
	PolarityCues           map[types.OutcomePolarity][]string
	PolarityContradictions map[types.OutcomePolarity][]string

	// HookAliases carries curated query phrasings for well known hooks,
	// keyed by hook id (sec_482_crpc, art_226, pc_act, ...). These are
	// appended to the generated aliases.
	HookAliases map[string][]string

	// HookGroups maps a group id to hook ids that commonly substitute for
	// one another (a judgment matching any member satisfies the group).
	HookGroups map[string][]string

	// SignalTokens are single tokens whose presence marks a query as
	// legal-domain. StopWords are dropped by the tokenizer.
	SignalTokens []string
	StopWords    []string

	// NoisePrefixes are conversational lead-ins stripped repeatedly from
	// the front of a query before profiling.
	NoisePrefixes []string

	// CourtTerms maps a court scope to the phrases that hint at it.
	CourtTerms map[types.CourtScope][]string

	// AnchorPatterns are regular expressions (source form) that pull
	// distinctive fact anchors out of a query: delays, amounts, areas.
	AnchorPatterns []string

	// derived state, built by Compile
	signals  map[string]struct{}
	stops    map[string]struct{}
	aliases  []aliasEntry // statute aliases, longest first
	families map[string]familyInfo
	ordered  orderedIDs
	anchors  []*regexp.Regexp
	groupOf  map[string]string // hook id -> group id
}

// aliasEntry binds one normalised statute alias to its family.
type aliasEntry struct {
	phrase string
	family string
}

// familyInfo is the display metadata for a hook family.
type familyInfo struct {
	full  string
	short string
}

// orderedIDs caches sorted key slices so matchers iterate deterministically.
type orderedIDs struct {
	domains    []string
	issues     []string
	procedures []string
	actors     []string
}

// Default returns the built-in lexicon. The snapshot is compiled once and
// shared; callers must not mutate it.
func Default() *Lexicon { return defaultLexicon }

var defaultLexicon = func() *Lexicon {
	lx := builtin()
	if err := lx.Compile(); err != nil {
		panic(fmt.Sprintf("lexicon: builtin tables invalid: %v", err))
	}
	return lx
}()

// Compile normalises every phrase table and builds the derived indexes. It
// must be called before any matcher; Default and Merge do this for you.
func (lx *Lexicon) Compile() error {
	normMap(lx.Domains)
	normMap(lx.Issues)
	normMap(lx.Statutes)
	normMap(lx.Procedures)
	normMap(lx.Actors)
	normMap(lx.Synonyms)
	normMap(lx.KeywordPacks)
	normMap(lx.HookAliases)
	for p, list := range lx.PolarityCues {
		lx.PolarityCues[p] = normList(list)
	}
	for p, list := range lx.PolarityContradictions {
		lx.PolarityContradictions[p] = normList(list)
	}
	for scope, list := range lx.CourtTerms {
		lx.CourtTerms[scope] = normList(list)
	}
	lx.SignalTokens = normList(lx.SignalTokens)
	lx.StopWords = normList(lx.StopWords)
	lx.NoisePrefixes = normList(lx.NoisePrefixes)

	lx.signals = toSet(lx.SignalTokens)
	lx.stops = toSet(lx.StopWords)

	lx.families = make(map[string]familyInfo, len(lx.Statutes))
	lx.aliases = lx.aliases[:0]
	for family, names := range lx.Statutes {
		if len(names) == 0 {
			return fmt.Errorf("statute family %q has no aliases", family)
		}
		info := familyInfo{full: names[0], short: names[0]}
		if len(names) > 1 {
			info.short = names[1]
		}
		lx.families[family] = info
		for _, alias := range names {
			lx.aliases = append(lx.aliases, aliasEntry{phrase: alias, family: family})
		}
	}
	sort.Slice(lx.aliases, func(i, j int) bool {
		if len(lx.aliases[i].phrase) != len(lx.aliases[j].phrase) {
			return len(lx.aliases[i].phrase) > len(lx.aliases[j].phrase)
		}
		return lx.aliases[i].phrase < lx.aliases[j].phrase
	})

	lx.ordered = orderedIDs{
		domains:    sortedKeys(lx.Domains),
		issues:     sortedKeys(lx.Issues),
		procedures: sortedKeys(lx.Procedures),
		actors:     sortedKeys(lx.Actors),
	}

	lx.groupOf = make(map[string]string)
	for group, members := range lx.HookGroups {
		for _, id := range members {
			lx.groupOf[id] = group
		}
	}

	anchors, err := compileAnchors(lx.AnchorPatterns)
	if err != nil {
		return err
	}
	lx.anchors = anchors
	return nil
}

// ============================================================================
// OVERLAY
// ============================================================================

// Overlay is the YAML shape accepted by the --lexicon flag. Every key is
// additive: entries extend the built-in tables, they never remove from them.
type Overlay struct {
	Domains       map[string][]string `yaml:"domains"`
	Issues        map[string][]string `yaml:"issues"`
	Statutes      map[string][]string `yaml:"statutes"`
	Procedures    map[string][]string `yaml:"procedures"`
	Actors        map[string][]string `yaml:"actors"`
	Synonyms      map[string][]string `yaml:"synonyms"`
	KeywordPacks  map[string][]string `yaml:"keywordPacks"`
	Templates     map[string][]string `yaml:"templates"`
	Cues          map[string][]string `yaml:"polarityCues"`
	Contradict    map[string][]string `yaml:"polarityContradictions"`
	HookAliases   map[string][]string `yaml:"hookAliases"`
	HookGroups    map[string][]string `yaml:"hookGroups"`
	SignalTokens  []string            `yaml:"signalTokens"`
	StopWords     []string            `yaml:"stopWords"`
	NoisePrefixes []string            `yaml:"noisePrefixes"`
}

// LoadOverlay reads and parses an overlay file.
func LoadOverlay(path string) (*Overlay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon overlay: %w", err)
	}
	var o Overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("parse lexicon overlay: %w", err)
	}
	return &o, nil
}

// Merge returns a new compiled lexicon with the overlay applied on top of
// lx. The receiver is not modified.
func (lx *Lexicon) Merge(o *Overlay) (*Lexicon, error) {
	next := lx.clone()
	if o != nil {
		mergeMap(next.Domains, o.Domains)
		mergeMap(next.Issues, o.Issues)
		mergeMap(next.Statutes, o.Statutes)
		mergeMap(next.Procedures, o.Procedures)
		mergeMap(next.Actors, o.Actors)
		mergeMap(next.Synonyms, o.Synonyms)
		mergeMap(next.KeywordPacks, o.KeywordPacks)
		mergeMap(next.Templates, o.Templates)
		mergeMap(next.HookAliases, o.HookAliases)
		mergeMap(next.HookGroups, o.HookGroups)
		for key, list := range o.Cues {
			p := types.OutcomePolarity(key)
			next.PolarityCues[p] = appendUnique(next.PolarityCues[p], list...)
		}
		for key, list := range o.Contradict {
			p := types.OutcomePolarity(key)
			next.PolarityContradictions[p] = appendUnique(next.PolarityContradictions[p], list...)
		}
		next.SignalTokens = appendUnique(next.SignalTokens, o.SignalTokens...)
		next.StopWords = appendUnique(next.StopWords, o.StopWords...)
		next.NoisePrefixes = appendUnique(next.NoisePrefixes, o.NoisePrefixes...)
	}
	if err := next.Compile(); err != nil {
		return nil, err
	}
	return next, nil
}

// clone deep-copies the declarative tables. Derived state is rebuilt by
// Compile.
func (lx *Lexicon) clone() *Lexicon {
	return &Lexicon{
		Domains:                copyMap(lx.Domains),
		Issues:                 copyMap(lx.Issues),
		Statutes:               copyMap(lx.Statutes),
		Procedures:             copyMap(lx.Procedures),
		Actors:                 copyMap(lx.Actors),
		Synonyms:               copyMap(lx.Synonyms),
		KeywordPacks:           copyMap(lx.KeywordPacks),
		Templates:              copyMap(lx.Templates),
		PolarityCues:           copyPolarityMap(lx.PolarityCues),
		PolarityContradictions: copyPolarityMap(lx.PolarityContradictions),
		HookAliases:            copyMap(lx.HookAliases),
		HookGroups:             copyMap(lx.HookGroups),
		SignalTokens:           append([]string(nil), lx.SignalTokens...),
		StopWords:              append([]string(nil), lx.StopWords...),
		NoisePrefixes:          append([]string(nil), lx.NoisePrefixes...),
		CourtTerms:             copyScopeMap(lx.CourtTerms),
		AnchorPatterns:         append([]string(nil), lx.AnchorPatterns...),
	}
}

// ============================================================================
// HOLDER
// ============================================================================

// Holder publishes the active lexicon snapshot. Requests load it once at the
// start and keep that pointer, so a concurrent overlay reload never changes
// vocabulary mid-request.
type Holder struct {
	ptr atomic.Pointer[Lexicon]
}

// NewHolder returns a holder seeded with lx (Default() when nil).
func NewHolder(lx *Lexicon) *Holder {
	h := &Holder{}
	if lx == nil {
		lx = Default()
	}
	h.ptr.Store(lx)
	return h
}

// Current returns the active snapshot.
func (h *Holder) Current() *Lexicon { return h.ptr.Load() }

// Store swaps in a new snapshot.
func (h *Holder) Store(lx *Lexicon) { h.ptr.Store(lx) }

// ============================================================================
// SMALL HELPERS
// ============================================================================

func normMap(m map[string][]string) {
	for k, list := range m {
		m[k] = normList(list)
	}
}

func normList(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, s := range list {
		n := Normalize(s)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		set[s] = struct{}{}
	}
	return set
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func copyPolarityMap(m map[types.OutcomePolarity][]string) map[types.OutcomePolarity][]string {
	out := make(map[types.OutcomePolarity][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func copyScopeMap(m map[types.CourtScope][]string) map[types.CourtScope][]string {
	out := make(map[types.CourtScope][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func mergeMap(dst, src map[string][]string) {
	for k, list := range src {
		dst[k] = appendUnique(dst[k], list...)
	}
}

func appendUnique(dst []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(extra))
	for _, s := range dst {
		seen[Normalize(s)] = struct{}{}
	}
	for _, s := range extra {
		n := Normalize(s)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		dst = append(dst, n)
	}
	return dst
}

func uniqueStrings(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
