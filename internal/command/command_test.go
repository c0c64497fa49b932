package command

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		api    API
		action Action
		params []string
	}{
		// weather
		{"weather in Tokyo", APIWeather, ActionGet, []string{"tokyo"}},
		{"weather", APIWeather, ActionGet, []string{"berlin"}},
		{"get weather berlin", APIWeather, ActionGet, []string{"berlin"}},
		{"weather for New York", APIWeather, ActionGet, []string{"new york"}},
		{"  WEATHER   Paris  ", APIWeather, ActionGet, []string{"paris"}},
		{"what's the weather like", APIWeather, ActionGet, []string{"like"}},

		// cat facts
		{"get cat fact", APICatFacts, ActionGet, []string{}},
		{"get cat", APICatFacts, ActionGet, []string{}},
		{"Cat Facts please", APICatFacts, ActionGet, []string{}},

		// jokes
		{"chuck norris joke", APIChuckNorris, ActionGet, []string{"norris"}},
		{"chuck norris car", APIChuckNorris, ActionGet, []string{"norris car"}},
		{"get chuck joke", APIChuckNorris, ActionGet, []string{}},
		{"chuck", APIChuckNorris, ActionGet, []string{}},
		{"chuck joke joke", APIChuckNorris, ActionGet, []string{"joke"}},

		// activity
		{"i am bored", APIBored, ActionGet, []string{}},
		{"suggest an activity", APIBored, ActionGet, []string{}},

		// github
		{"search github john", APIGitHub, ActionSearch, []string{"john"}},
		{"github torvalds", APIGitHub, ActionSearch, []string{"torvalds"}},
		{"search users alice", APIGitHub, ActionSearch, []string{"alice"}},
		{"search user bob", APIGitHub, ActionSearch, []string{"bob"}},
		{"search carol", APIGitHub, ActionSearch, []string{"carol"}},
		{"github", APIGitHub, ActionSearch, []string{""}},
		{"search my repos", APIGitHub, ActionSearch, []string{"my repos"}},

		// local
		{"get my preferences", APICustom, ActionPreferences, []string{}},
		{"show preferences", APICustom, ActionPreferences, []string{}},
		{"history", APICustom, ActionHistory, []string{}},
		{"show history", APICustom, ActionHistory, []string{}},

		// unknown
		{"do something random", APIUnknown, ActionUnknown, []string{}},
		{"", APIUnknown, ActionUnknown, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Parse(tt.in)
			want := Intent{API: tt.api, Action: tt.action, Params: tt.params, OriginalCommand: tt.in}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParse_RuleOrder(t *testing.T) {
	tests := []struct {
		in   string
		want API
	}{
		// weather outranks everything below it
		{"search weather history", APIWeather},
		// cat fact outranks chuck
		{"chuck a cat fact", APICatFacts},
		// bored outranks github
		{"search for an activity", APIBored},
		// "my" hits the preferences rule before history is tested
		{"my history", APICustom},
	}
	for _, tt := range tests {
		if got := Parse(tt.in).API; got != tt.want {
			t.Errorf("Parse(%q).API = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := Parse("my history").Action; got != ActionPreferences {
		t.Errorf("Parse(\"my history\").Action = %q, want preferences", got)
	}
}

func TestParse_Deterministic(t *testing.T) {
	inputs := []string{"weather in Rome", "search github john", "chuck norris car", "nonsense"}
	for _, in := range inputs {
		first := Parse(in)
		for range 3 {
			if diff := cmp.Diff(first, Parse(in)); diff != "" {
				t.Errorf("Parse(%q) not deterministic:\n%s", in, diff)
			}
		}
	}
}

func TestParse_KeepsOriginalCommand(t *testing.T) {
	got := Parse("  Weather in TOKYO ")
	if got.OriginalCommand != "  Weather in TOKYO " {
		t.Errorf("OriginalCommand = %q", got.OriginalCommand)
	}
}

func TestIntent_Param(t *testing.T) {
	in := Intent{Params: []string{"a"}}
	if in.Param(0) != "a" || in.Param(1) != "" || in.Param(-1) != "" {
		t.Errorf("Param() out of range handling wrong")
	}
}

func TestIntent_Local(t *testing.T) {
	if !Parse("history").Local() {
		t.Error("history should be local")
	}
	if Parse("weather").Local() {
		t.Error("weather should not be local")
	}
}

func TestIntent_JSONParamsNeverNull(t *testing.T) {
	b, err := json.Marshal(Parse("do something random"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"api":"unknown","action":"unknown","params":[],"originalCommand":"do something random"}`
	if string(b) != want {
		t.Errorf("Marshal() = %s, want %s", b, want)
	}
}
