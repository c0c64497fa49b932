package provider

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// Activity is a suggested thing to do.
type Activity struct {
	Activity     string    `json:"activity"`
	Type         string    `json:"type"`
	Participants int       `json:"participants"`
	Price        float64   `json:"price"`
	Timestamp    time.Time `json:"timestamp"`
}

// cannedActivities is served when the upstream cannot be reached.
var cannedActivities = []Activity{
	{Activity: "Learn a new programming language", Type: "education", Participants: 1, Price: 0},
	{Activity: "Take a walk in the park", Type: "recreational", Participants: 1, Price: 0},
	{Activity: "Read a book", Type: "education", Participants: 1, Price: 0},
	{Activity: "Write in a journal", Type: "relaxation", Participants: 1, Price: 0},
	{Activity: "Try cooking a new recipe", Type: "cooking", Participants: 1, Price: 0.3},
}

// ActivityClient suggests random activities. It is the only adapter
// that recovers from upstream failure locally.
type ActivityClient struct {
	base
	pick func(n int) int
}

// NewActivity creates an activity adapter rooted at baseURL.
func NewActivity(baseURL string, client *http.Client, logger *slog.Logger) *ActivityClient {
	return &ActivityClient{
		base: newBase("bored", baseURL, client, logger),
		pick: rand.IntN,
	}
}

// Activity returns a random activity. Upstream failures are logged and
// answered from the canned list, so this never returns an error.
func (a *ActivityClient) Activity(ctx context.Context) (*Activity, error) {
	var resp struct {
		Activity     string  `json:"activity"`
		Type         string  `json:"type"`
		Participants int     `json:"participants"`
		Price        float64 `json:"price"`
	}
	if err := a.getJSON(ctx, "bored.random", "/random", nil, &resp); err != nil {
		a.logger.Warn("activity upstream unavailable, using canned activity", "error", err)
		act := cannedActivities[a.pick(len(cannedActivities))]
		act.Timestamp = a.now()
		return &act, nil
	}

	return &Activity{
		Activity:     resp.Activity,
		Type:         resp.Type,
		Participants: resp.Participants,
		Price:        resp.Price,
		Timestamp:    a.now(),
	}, nil
}
