// Package command turns free-text console input into a structured
// intent. Matching is keyword based and first-match-wins; there is no
// grammar and no ambiguity resolution beyond rule order.
package command

import (
	"regexp"
	"strings"
)

// API names the backend an intent is routed to.
type API string

// Known API tags. These values are persisted in search history.
const (
	APIWeather     API = "weather"
	APICatFacts    API = "catfacts"
	APIChuckNorris API = "chucknorris"
	APIBored       API = "bored"
	APIGitHub      API = "github"
	APICustom      API = "custom"
	APIUnknown     API = "unknown"
)

// Action is the operation within an API.
type Action string

// Known actions.
const (
	ActionGet         Action = "get"
	ActionSearch      Action = "search"
	ActionPreferences Action = "preferences"
	ActionHistory     Action = "history"
	ActionUnknown     Action = "unknown"
)

// DefaultCity is used when a weather command names no city.
const DefaultCity = "berlin"

// Intent is a parsed command. Params is never nil.
type Intent struct {
	API             API      `json:"api"`
	Action          Action   `json:"action"`
	Params          []string `json:"params"`
	OriginalCommand string   `json:"originalCommand"`
}

// Param returns the i-th parameter or "" when absent.
func (in Intent) Param(i int) string {
	if i < 0 || i >= len(in.Params) {
		return ""
	}
	return in.Params[i]
}

// Local reports whether the intent is answered from the console's own
// stores rather than an upstream API. Local intents are not recorded
// in history.
func (in Intent) Local() bool {
	return in.API == APICustom
}

var (
	weatherPattern = regexp.MustCompile(`weather (?:in |for )?(.+)`)
	chuckPattern   = regexp.MustCompile(`chuck (.+)`)
	githubPattern  = regexp.MustCompile(`(?:search\s+github\s+|github\s+|search\s+(?:user\s+|users\s+)?)(.+)`)
)

// Parse converts text into an Intent. It never fails: text matching no
// rule yields an unknown intent. Rules are tested in a fixed order and
// overlapping keywords resolve to whichever rule comes first, so
// "search my repos" is a GitHub search, not a preferences lookup.
func Parse(text string) Intent {
	q := strings.TrimSpace(strings.ToLower(text))

	in := Intent{Params: []string{}, OriginalCommand: text}

	switch {
	case strings.Contains(q, "weather"):
		in.API, in.Action = APIWeather, ActionGet
		city := DefaultCity
		if m := weatherPattern.FindStringSubmatch(q); m != nil {
			city = strings.TrimSpace(m[1])
		}
		in.Params = []string{city}

	case strings.Contains(q, "cat fact") || q == "get cat":
		in.API, in.Action = APICatFacts, ActionGet

	case strings.Contains(q, "chuck"):
		in.API, in.Action = APIChuckNorris, ActionGet
		if m := chuckPattern.FindStringSubmatch(q); m != nil {
			term := strings.TrimSpace(strings.Replace(m[1], "joke", "", 1))
			if term != "" {
				in.Params = []string{term}
			}
		}

	case strings.Contains(q, "activity") || strings.Contains(q, "bored"):
		in.API, in.Action = APIBored, ActionGet

	case strings.Contains(q, "github") || strings.Contains(q, "search"):
		in.API, in.Action = APIGitHub, ActionSearch
		username := ""
		if m := githubPattern.FindStringSubmatch(q); m != nil {
			username = strings.TrimSpace(m[1])
		}
		in.Params = []string{username}

	case strings.Contains(q, "preferences") || strings.Contains(q, "my"):
		in.API, in.Action = APICustom, ActionPreferences

	case strings.Contains(q, "history"):
		in.API, in.Action = APICustom, ActionHistory

	default:
		in.API, in.Action = APIUnknown, ActionUnknown
	}

	return in
}
