// Package mentions extracts @username references from message bodies.
// Matching runs on an Aho-Corasick automaton built from the known
// usernames, so a single pass covers every pattern.
package mentions

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"chat-core/domain"

	goahocorasick "github.com/anknown/ahocorasick"
)

type Scanner struct {
	mu      sync.RWMutex
	matcher *goahocorasick.Machine
	byToken map[string]domain.IdentityID
}

// NewScanner builds the automaton over "@username" tokens, lowercased.
// An empty user list yields a scanner that never matches until Add
// teaches it a username.
func NewScanner(users []domain.Identity) (*Scanner, error) {
	s := &Scanner{byToken: make(map[string]domain.IdentityID, len(users))}
	for _, u := range users {
		token := mentionToken(u.Username)
		if _, dup := s.byToken[token]; dup {
			continue
		}
		s.byToken[token] = u.ID
	}
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

// Add teaches the scanner a freshly registered username. The automaton is
// rebuilt under the write lock, so in-flight scans finish on the old one.
func (s *Scanner) Add(user domain.Identity) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	token := mentionToken(user.Username)
	if _, dup := s.byToken[token]; dup {
		return nil
	}
	if s.byToken == nil {
		s.byToken = make(map[string]domain.IdentityID)
	}
	s.byToken[token] = user.ID
	return s.rebuild()
}

// rebuild compiles the automaton from the current token set. Callers hold
// the write lock (or own the scanner exclusively, as NewScanner does).
func (s *Scanner) rebuild() error {
	if len(s.byToken) == 0 {
		s.matcher = nil
		return nil
	}
	patterns := make([][]rune, 0, len(s.byToken))
	for token := range s.byToken {
		patterns = append(patterns, []rune(token))
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return err
	}
	s.matcher = m
	return nil
}

// Scan returns the distinct identities mentioned in the body, sorted by id.
// A match only counts when the token ends at a word boundary, so @ann does
// not fire inside @annabel.
func (s *Scanner) Scan(body string) []domain.IdentityID {
	if s == nil || body == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.matcher == nil {
		return nil
	}

	runes := []rune(strings.ToLower(body))
	seen := make(map[domain.IdentityID]struct{})
	for _, term := range s.matcher.MultiPatternSearch(runes, false) {
		end := term.Pos + len(term.Word)
		if end < len(runes) && isNameRune(runes[end]) {
			continue
		}
		if id, ok := s.byToken[string(term.Word)]; ok {
			seen[id] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	out := make([]domain.IdentityID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func mentionToken(username string) string {
	return "@" + strings.ToLower(username)
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
