// Package filter flags messages containing prohibited keywords. Keywords are
// grouped into categories; the global list comes from a YAML file and each
// group may add its own keywords on top of it.
package filter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"tg-guardian/internal/logger"
)

// Global is the scope of keywords that apply to every group.
const Global int64 = 0

// Keyword is one entry of a scope's list.
type Keyword struct {
	GroupID  int64
	Category string
	Word     string
}

// Store persists group-scoped keywords.
type Store interface {
	LoadKeywords(ctx context.Context) ([]Keyword, error)
	SaveKeyword(ctx context.Context, k Keyword) error
	DeleteKeyword(ctx context.Context, k Keyword) error
}

// Result lists what a text matched, in category order.
type Result struct {
	Flagged    bool
	Categories []string
	Keywords   []string
}

// DefaultKeywords is the global list used when no keywords file exists.
func DefaultKeywords() map[string][]string {
	return map[string][]string{
		"hate_speech":   {"terrorist", "terrorism", "jihad", "isis", "nazi", "fascist", "extremist"},
		"violence":      {"assault", "weapon", "gore", "execute", "torture"},
		"drugs":         {"cocaine", "heroin", "marijuana", "cannabis", "dealer"},
		"adult_content": {"porn", "nude", "naked", "nsfw", "erotic", "xxx", "18+"},
	}
}

type scope struct {
	words    map[string][]string
	compiled map[string]*regexp.Regexp
}

func newScope() *scope {
	return &scope{words: make(map[string][]string), compiled: make(map[string]*regexp.Regexp)}
}

// Filter holds the keyword lists and their compiled patterns.
type Filter struct {
	store Store
	file  string

	mu     sync.RWMutex
	scopes map[int64]*scope
}

// New builds a Filter seeded with DefaultKeywords. file is where the global
// list is read from and saved to; store may be nil.
func New(file string, store Store) *Filter {
	f := &Filter{store: store, file: file, scopes: map[int64]*scope{Global: newScope()}}
	f.replaceGlobal(DefaultKeywords())
	return f
}

// Load reads the global list from the keywords file, keeping the defaults
// when the file does not exist, and the group lists from the store.
func (f *Filter) Load(ctx context.Context) error {
	if f.file != "" {
		global, err := ReadFile(f.file)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Infof("Keywords file %s not found, using built-in keywords", f.file)
		case err != nil:
			return err
		default:
			f.replaceGlobal(global)
		}
	}
	if f.store == nil {
		return nil
	}
	entries, err := f.store.LoadKeywords(ctx)
	if err != nil {
		return fmt.Errorf("load keywords: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	touched := make(map[int64]map[string]struct{})
	for _, k := range entries {
		s := f.scopeLocked(k.GroupID)
		word := normalize(k.Word)
		if !contains(s.words[k.Category], word) {
			s.words[k.Category] = append(s.words[k.Category], word)
		}
		if touched[k.GroupID] == nil {
			touched[k.GroupID] = make(map[string]struct{})
		}
		touched[k.GroupID][k.Category] = struct{}{}
	}
	for groupID, cats := range touched {
		for cat := range cats {
			f.scopes[groupID].recompile(cat)
		}
	}
	logger.Infof("Loaded %d stored keywords", len(entries))
	return nil
}

func (f *Filter) replaceGlobal(words map[string][]string) {
	s := newScope()
	for cat, list := range words {
		for _, w := range list {
			w = normalize(w)
			if w != "" && !contains(s.words[cat], w) {
				s.words[cat] = append(s.words[cat], w)
			}
		}
		s.recompile(cat)
	}
	f.mu.Lock()
	f.scopes[Global] = s
	f.mu.Unlock()
}

func (f *Filter) scopeLocked(groupID int64) *scope {
	s, ok := f.scopes[groupID]
	if !ok {
		s = newScope()
		f.scopes[groupID] = s
	}
	return s
}

func normalize(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

func contains(list []string, word string) bool {
	for _, w := range list {
		if w == word {
			return true
		}
	}
	return false
}

// Keywords only match as whole words; a letter, mark, digit or underscore
// next to the keyword means it is part of a longer word.
const boundary = `[^\p{L}\p{M}\p{N}_]`

func (s *scope) recompile(category string) {
	words := s.words[category]
	if len(words) == 0 {
		delete(s.words, category)
		delete(s.compiled, category)
		return
	}
	sorted := append([]string(nil), words...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, w := range sorted {
		quoted[i] = regexp.QuoteMeta(w)
	}
	pattern := `(?i)(?:^|` + boundary + `)(` + strings.Join(quoted, "|") + `)(?:$|` + boundary + `)`
	s.compiled[category] = regexp.MustCompile(pattern)
}

// Check matches text against the global list and the group's own list.
func (f *Filter) Check(groupID int64, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var res Result
	seenCat := make(map[string]struct{})
	seenWord := make(map[string]struct{})
	scopes := []int64{Global}
	if groupID != Global {
		scopes = append(scopes, groupID)
	}
	for _, id := range scopes {
		s, ok := f.scopes[id]
		if !ok {
			continue
		}
		for _, cat := range sortedKeys(s.compiled) {
			matches := s.compiled[cat].FindAllStringSubmatch(text, -1)
			if len(matches) == 0 {
				continue
			}
			if _, dup := seenCat[cat]; !dup {
				seenCat[cat] = struct{}{}
				res.Categories = append(res.Categories, cat)
			}
			for _, m := range matches {
				w := strings.ToLower(m[1])
				if _, dup := seenWord[w]; !dup {
					seenWord[w] = struct{}{}
					res.Keywords = append(res.Keywords, w)
				}
			}
		}
	}
	res.Flagged = len(res.Categories) > 0
	return res
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddKeyword adds word to a category of the given scope and reports whether
// it was new. Global additions are written back to the keywords file.
func (f *Filter) AddKeyword(ctx context.Context, groupID int64, category, word string) (bool, error) {
	category, word = normalize(category), normalize(word)
	if category == "" || word == "" {
		return false, errors.New("category and keyword must not be empty")
	}

	f.mu.Lock()
	s := f.scopeLocked(groupID)
	if contains(s.words[category], word) {
		f.mu.Unlock()
		return false, nil
	}
	if groupID != Global && f.store != nil {
		if err := f.store.SaveKeyword(ctx, Keyword{GroupID: groupID, Category: category, Word: word}); err != nil {
			f.mu.Unlock()
			return false, fmt.Errorf("save keyword: %w", err)
		}
	}
	s.words[category] = append(s.words[category], word)
	s.recompile(category)
	f.mu.Unlock()

	if groupID == Global {
		f.persistGlobal()
	}
	logger.Infof("Added keyword %q to category %s of scope %d", word, category, groupID)
	return true, nil
}

// RemoveKeyword removes word from a category and reports whether it was there.
func (f *Filter) RemoveKeyword(ctx context.Context, groupID int64, category, word string) (bool, error) {
	category, word = normalize(category), normalize(word)

	f.mu.Lock()
	s, ok := f.scopes[groupID]
	if !ok || !contains(s.words[category], word) {
		f.mu.Unlock()
		return false, nil
	}
	if groupID != Global && f.store != nil {
		if err := f.store.DeleteKeyword(ctx, Keyword{GroupID: groupID, Category: category, Word: word}); err != nil {
			f.mu.Unlock()
			return false, fmt.Errorf("delete keyword: %w", err)
		}
	}
	kept := s.words[category][:0]
	for _, w := range s.words[category] {
		if w != word {
			kept = append(kept, w)
		}
	}
	s.words[category] = kept
	s.recompile(category)
	f.mu.Unlock()

	if groupID == Global {
		f.persistGlobal()
	}
	logger.Infof("Removed keyword %q from category %s of scope %d", word, category, groupID)
	return true, nil
}

func (f *Filter) persistGlobal() {
	if f.file == "" {
		return
	}
	if err := WriteFile(f.file, f.Snapshot(Global)); err != nil {
		logger.Warningf("Failed to save keywords file %s: %v", f.file, err)
	}
}

// Categories lists the categories of a scope.
func (f *Filter) Categories(groupID int64) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.scopes[groupID]
	if !ok {
		return nil
	}
	return sortedKeys(s.words)
}

// Keywords lists one category of a scope.
func (f *Filter) Keywords(groupID int64, category string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.scopes[groupID]
	if !ok {
		return nil
	}
	return append([]string(nil), s.words[normalize(category)]...)
}

// Snapshot copies every category of a scope.
func (f *Filter) Snapshot(groupID int64) map[string][]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]string)
	if s, ok := f.scopes[groupID]; ok {
		for cat, words := range s.words {
			out[cat] = append([]string(nil), words...)
		}
	}
	return out
}

// ReadFile parses a keywords file: a YAML mapping of category to keywords.
func ReadFile(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string][]string
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse keywords file %s: %w", path, err)
	}
	return out, nil
}

// WriteFile stores categories as a keywords file.
func WriteFile(path string, categories map[string][]string) error {
	data, err := yaml.Marshal(categories)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write keywords file %s: %w", path, err)
	}
	return nil
}
