// Package gatekeeper はリクエストパスを分類し、Identityの有無に応じた遷移を決める。
// 分類は静的な表で行い、Identityの解決より前に評価する。
package gatekeeper

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category はパスの分類。
type Category string

const (
	// Public はIdentityを必要としない。Identityの解決も行わない。
	Public Category = "public"
	// Protected はIdentityを必要とする。
	Protected Category = "protected"
	// AuthOnly はログイン・サインアップなど未認証ユーザー向けのページ。
	AuthOnly Category = "auth-only"
)

// Valid は既知の分類かどうかを返す。
func (c Category) Valid() bool {
	switch c {
	case Public, Protected, AuthOnly:
		return true
	default:
		return false
	}
}

// Rule はパスパターンと分類の対応。
// Patternは完全一致（/profile）か、末尾が/*の前方一致（/api/*）。
// APIがtrueのパスは未認証時にリダイレクトではなく401を返す。
type Rule struct {
	Pattern  string   `yaml:"pattern"`
	Category Category `yaml:"category"`
	API      bool     `yaml:"api"`
}

func (r Rule) prefix() (string, bool) {
	if strings.HasSuffix(r.Pattern, "/*") {
		return strings.TrimSuffix(r.Pattern, "*"), true
	}
	return "", false
}

func (r Rule) matches(path string) bool {
	if p, ok := r.prefix(); ok {
		return strings.HasPrefix(path, p) || path == strings.TrimSuffix(p, "/")
	}
	return path == r.Pattern
}

// specificity は一致の優先度。完全一致は同じ長さの前方一致より優先する。
func (r Rule) specificity() int {
	if p, ok := r.prefix(); ok {
		return 2 * len(p)
	}
	return 2*len(r.Pattern) + 1
}

// Table はルート分類表。
type Table struct {
	Rules    []Rule   `yaml:"rules"`
	Excluded []string `yaml:"excluded"`
	Default  Category `yaml:"default"`
}

// Classification はパスの分類結果。
type Classification struct {
	Category Category
	API      bool
	// Excluded は静的アセット等で、分類も評価もしないパスであることを示す。
	Excluded bool
}

// Classify はパスを分類する。一致するルールのうち最も長いものを採用し、
// どれにも一致しない場合はDefaultを使う。
func (t *Table) Classify(path string) Classification {
	for _, entry := range t.Excluded {
		if excludes(entry, path) {
			return Classification{Excluded: true}
		}
	}

	best := -1
	var matched Rule
	for _, r := range t.Rules {
		if !r.matches(path) {
			continue
		}
		if s := r.specificity(); s > best {
			best = s
			matched = r
		}
	}

	if best < 0 {
		return Classification{Category: t.Default}
	}
	return Classification{Category: matched.Category, API: matched.API}
}

// excludes は除外エントリがパスに一致するかを返す。
// "/"で終わるエントリはその配下すべて、それ以外は完全一致とその配下のみに一致する。
func excludes(entry, path string) bool {
	if strings.HasSuffix(entry, "/") {
		return strings.HasPrefix(path, entry)
	}
	return path == entry || strings.HasPrefix(path, entry+"/")
}

// Validate は表の整合性を検証する。
func (t *Table) Validate() error {
	if !t.Default.Valid() {
		return fmt.Errorf("invalid default category: %q", t.Default)
	}
	seen := make(map[string]struct{}, len(t.Rules))
	for _, r := range t.Rules {
		if !strings.HasPrefix(r.Pattern, "/") {
			return fmt.Errorf("pattern must start with '/': %q", r.Pattern)
		}
		if strings.Contains(strings.TrimSuffix(r.Pattern, "/*"), "*") {
			return fmt.Errorf("wildcard is only allowed as a trailing '/*': %q", r.Pattern)
		}
		if !r.Category.Valid() {
			return fmt.Errorf("invalid category %q for pattern %q", r.Category, r.Pattern)
		}
		if _, dup := seen[r.Pattern]; dup {
			return fmt.Errorf("duplicate pattern: %q", r.Pattern)
		}
		seen[r.Pattern] = struct{}{}
	}
	for _, e := range t.Excluded {
		if !strings.HasPrefix(e, "/") {
			return fmt.Errorf("excluded prefix must start with '/': %q", e)
		}
	}
	return nil
}

// DefaultTable は組み込みの分類表を返す。
func DefaultTable() *Table {
	return &Table{
		Default: Protected,
		Excluded: []string{
			"/assets/",
			"/static/",
			"/_internal/",
			"/favicon.ico",
			"/robots.txt",
			"/health",
			"/metrics",
		},
		Rules: []Rule{
			{Pattern: "/", Category: Public},
			{Pattern: "/login", Category: AuthOnly},
			{Pattern: "/signup", Category: AuthOnly},
			{Pattern: "/auth/*", Category: Public},
			{Pattern: "/profile", Category: Protected},
			{Pattern: "/dashboard", Category: Protected},
			{Pattern: "/connections/*", Category: Protected},
			{Pattern: "/messages/*", Category: Protected},
			{Pattern: "/sessions/*", Category: Protected},
			{Pattern: "/notifications", Category: Protected},
			{Pattern: "/api/*", Category: Protected, API: true},
		},
	}
}

// LoadTable はYAMLファイルから分類表を読み込む。
// excludedとdefaultが省略された場合は組み込みの値を使う。
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}
	return ParseTable(data)
}

// ParseTable はYAMLから分類表を構築する。
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse routes file: %w", err)
	}

	defaults := DefaultTable()
	if t.Default == "" {
		t.Default = defaults.Default
	}
	if t.Excluded == nil {
		t.Excluded = defaults.Excluded
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routes file: %w", err)
	}
	return &t, nil
}
