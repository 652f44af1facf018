package driver

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// MaxFeedPosts is the largest page a feed response may hold.
const MaxFeedPosts = 20

// FeedPostFields are the keys every post in a feed response must carry.
var FeedPostFields = []string{"id", "user_id", "timestamp", "image_url"}

// Response is what a check looks at: the outcome plus the body it was built from.
type Response struct {
	Outcome RequestOutcome
	Body    []byte
}

// Check is a named predicate over a response. An empty Endpoints list applies
// the check to every endpoint.
type Check struct {
	Name      string
	Endpoints []string
	Predicate func(Response) bool
}

func (c Check) appliesTo(endpoint string) bool {
	return len(c.Endpoints) == 0 || slices.Contains(c.Endpoints, endpoint)
}

func evaluate(checks []Check, resp Response) []CheckResult {
	var results []CheckResult
	for _, c := range checks {
		if !c.appliesTo(resp.Outcome.Endpoint) {
			continue
		}
		results = append(results, CheckResult{Name: c.Name, Passed: c.Predicate(resp)})
	}
	return results
}

// StatusIn passes when the response status is one of codes.
func StatusIn(codes ...int) func(Response) bool {
	return func(r Response) bool {
		return slices.Contains(codes, r.Outcome.Status)
	}
}

// LatencyUnder passes when the request completed within budget.
func LatencyUnder(budget time.Duration) func(Response) bool {
	return func(r Response) bool {
		return r.Outcome.Err == "" && r.Outcome.Latency < budget
	}
}

// BodyNotEmpty passes when any bytes came back.
func BodyNotEmpty(r Response) bool {
	return len(r.Body) > 0
}

// PostsArray passes when the body is a JSON array of at most max elements.
func PostsArray(max int) func(Response) bool {
	return func(r Response) bool {
		var posts []json.RawMessage
		if err := json.Unmarshal(r.Body, &posts); err != nil {
			return false
		}
		return posts != nil && len(posts) <= max
	}
}

// PostsHaveFields passes when every element of the JSON array carries all fields.
func PostsHaveFields(fields ...string) func(Response) bool {
	return func(r Response) bool {
		var posts []map[string]json.RawMessage
		if err := json.Unmarshal(r.Body, &posts); err != nil {
			return false
		}
		for _, p := range posts {
			for _, f := range fields {
				if _, ok := p[f]; !ok {
					return false
				}
			}
		}
		return true
	}
}

// DefaultChecks are the checks the regional scripts ran against each endpoint.
func DefaultChecks(budget time.Duration) []Check {
	under := fmt.Sprintf("response time < %s", budget)
	writes := []string{EndpointCreateUser, EndpointCreatePost}

	checks := []Check{
		{Name: "feed status is 200", Endpoints: []string{EndpointFeed}, Predicate: StatusIn(200)},
		{Name: "feed has content", Endpoints: []string{EndpointFeed}, Predicate: BodyNotEmpty},
		{Name: "feed is a posts array", Endpoints: []string{EndpointFeed}, Predicate: PostsArray(MaxFeedPosts)},
		{
			Name:      "feed posts have " + strings.Join(FeedPostFields, ","),
			Endpoints: []string{EndpointFeed},
			Predicate: PostsHaveFields(FeedPostFields...),
		},
		{Name: "feed " + under, Endpoints: []string{EndpointFeed}, Predicate: LatencyUnder(budget)},
	}
	for _, ep := range writes {
		checks = append(checks,
			Check{Name: ep + " status is 200 or 201", Endpoints: []string{ep}, Predicate: StatusIn(200, 201)},
			Check{Name: ep + " " + under, Endpoints: []string{ep}, Predicate: LatencyUnder(budget)},
		)
	}
	return checks
}
