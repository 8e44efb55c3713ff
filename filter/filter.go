package filter

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/globals"
)

// NickContext selects which nickname length limit applies. The comment form
// and the chat page historically enforce different limits, both are kept.
type NickContext int

const (
	ContextComment NickContext = iota
	ContextChat
)

// builtin profanity list, extended via config
var defaultWords = []string{
	"fuck", "shit", "bitch", "asshole", "bastard", "cunt", "dick", "douche",
	"slut", "whore", "nigger", "faggot",
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Filter validates and sanitizes nicknames and message content. It is a pure
// collaborator: no I/O, safe for concurrent use once constructed.
type Filter struct {
	words    []string
	reserved []string
	rules    []*vm.Program

	messageLimit     int
	commentNickLimit int
	chatNickLimit    int
}

// Env is the environment the configured moderation rules are evaluated in.
// Once this struct is fixed it should not be changed, otherwise rules in
// existing configurations may not compile any more.
type Env struct {
	Nick    string
	Content string
	Context string
}

func New(cfg config.FilterConfig) *Filter {
	words := make([]string, 0, len(defaultWords)+len(cfg.ExtraWords))
	words = append(words, defaultWords...)
	for _, w := range cfg.ExtraWords {
		words = append(words, strings.ToLower(strings.TrimSpace(w)))
	}
	reserved := make([]string, 0, len(cfg.Reserved()))
	for _, r := range cfg.Reserved() {
		reserved = append(reserved, strings.ToLower(strings.TrimSpace(r)))
	}
	rules := make([]*vm.Program, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		prog, err := expr.Compile(rule, expr.Env(Env{}))
		if err != nil {
			globals.AppLogger.Error("could not compile filter rule, skipping", "rule", rule, "error", err)
			continue
		}
		rules = append(rules, prog)
	}
	return &Filter{
		words:            words,
		reserved:         reserved,
		rules:            rules,
		messageLimit:     cfg.MessageLimit(),
		commentNickLimit: cfg.CommentNickLimit(),
		chatNickLimit:    cfg.ChatNickLimit(),
	}
}

// ContainsProfanity reports whether any profane word occurs in s, ignoring case.
func (f *Filter) ContainsProfanity(s string) bool {
	lower := strings.ToLower(s)
	for _, w := range f.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Sanitize replaces every profane word in s with asterisks of equal length.
func (f *Filter) Sanitize(s string) string {
	lower := strings.ToLower(s)
	for _, w := range f.words {
		for {
			idx := strings.Index(lower, w)
			if idx < 0 {
				break
			}
			stars := strings.Repeat("*", len(w))
			s = s[:idx] + stars + s[idx+len(w):]
			lower = lower[:idx] + stars + lower[idx+len(w):]
		}
	}
	return s
}

// ValidateNickname checks an optional nickname against the length limit of the
// given context, the reserved names and the profanity list. An empty nickname
// is valid (a guest name is used instead).
func (f *Filter) ValidateNickname(nick string, ctx NickContext) error {
	trimmed := strings.TrimSpace(nick)
	if trimmed == "" {
		return nil
	}
	limit := f.commentNickLimit
	ctxName := "comment"
	if ctx == ContextChat {
		limit = f.chatNickLimit
		ctxName = "chat"
	}
	if len([]rune(trimmed)) > limit {
		return &ValidationError{Field: "nickname", Reason: fmt.Sprintf("must be at most %d characters", limit)}
	}
	lower := strings.ToLower(trimmed)
	for _, r := range f.reserved {
		if lower == r {
			return &ValidationError{Field: "nickname", Reason: "that name is not available"}
		}
	}
	if f.ContainsProfanity(trimmed) {
		return &ValidationError{Field: "nickname", Reason: "contains inappropriate language"}
	}
	if err := f.runRules(trimmed, "", ctxName); err != nil {
		return err
	}
	return nil
}

// ValidateMessage checks message content: non-empty after trimming, at most the
// configured number of printable characters, no profanity.
func (f *Filter) ValidateMessage(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if printableLen(trimmed) > f.messageLimit {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("must be at most %d characters", f.messageLimit)}
	}
	if f.ContainsProfanity(trimmed) {
		return &ValidationError{Field: "content", Reason: "contains inappropriate language"}
	}
	if err := f.runRules("", trimmed, "message"); err != nil {
		return err
	}
	return nil
}

func (f *Filter) runRules(nick, content, ctxName string) error {
	env := Env{Nick: nick, Content: content, Context: ctxName}
	for _, prog := range f.rules {
		res, err := expr.Run(prog, env)
		if err != nil {
			globals.AppLogger.Error("could not evaluate filter rule", "error", err)
			continue
		}
		if pass, ok := res.(bool); ok && !pass {
			return &ValidationError{Field: "content", Reason: "rejected by moderation rule"}
		}
	}
	return nil
}

func printableLen(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsPrint(r) {
			n++
		}
	}
	return n
}
