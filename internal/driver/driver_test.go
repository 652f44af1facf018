package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}

func testWorkload(vus int, d time.Duration) WorkloadConfig {
	cfg := DefaultWorkload()
	cfg.VUs = vus
	cfg.Duration = d
	cfg.Timeout = 2 * time.Second
	cfg.Think = ThinkTime{WriteFactor: 0.5, ReadFactor: 0.3}
	cfg.Seed = 42
	return cfg
}

func testTarget(url string) Target {
	return Target{Name: "test", BaseURL: url, Region: "local", Endpoints: DefaultEndpoints()}
}

func feedBody(user string) []byte {
	posts := make([]map[string]any, MaxFeedPosts)
	for i := range posts {
		posts[i] = map[string]any{
			"id":        i + 1,
			"user_id":   user,
			"timestamp": time.Now().UnixMilli(),
			"image_url": "https://picsum.photos/seed/x/200/300",
		}
	}
	b, _ := json.Marshal(posts)
	return b
}

func TestNewRejectsEmptyIDPool(t *testing.T) {
	cfg := testWorkload(1, time.Second)
	cfg.IDPool.Size = 0

	d, err := New(cfg, testTarget("http://localhost:8000"))
	assert.Nil(t, d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "id pool is empty")
}

func TestNewReportsEveryProblem(t *testing.T) {
	cfg := testWorkload(-1, -time.Second)
	cfg.WriteProbability = 1.5
	cfg.Timeout = 0
	cfg.Thresholds = []Threshold{{Metric: "p99", Limit: 1}}
	target := Target{Name: "broken", Endpoints: map[string]string{}}

	_, err := New(cfg, target)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"vus must not be negative",
		"duration must not be negative",
		"write probability",
		"request timeout",
		"unknown threshold metric",
		"has no base url",
		`has no "feed" endpoint`,
		`has no "create-user" endpoint`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestNewRejectsBadTemplate(t *testing.T) {
	target := testTarget("http://localhost:8000")
	target.Endpoints[EndpointFeed] = "/feed/{{.Nope}}"

	_, err := New(testWorkload(1, time.Second), target)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestZeroDurationRunIsEmpty(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer srv.Close()

	d, err := New(testWorkload(1, 0), testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
	assert.Equal(t, int64(0), atomic.LoadInt64(&hits))
}

func TestRunNeverExceedsVUs(t *testing.T) {
	var current, peak int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&current, 1)
		defer atomic.AddInt64(&current, -1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		w.Write(feedBody("1"))
	}))
	defer srv.Close()

	cfg := testWorkload(3, 300*time.Millisecond)
	cfg.WriteProbability = 0
	d, err := New(cfg, testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Outcomes)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
	assert.Equal(t, int64(0), d.Inflight())
}

func TestPostOnlyFollowsCreatedUser(t *testing.T) {
	var n int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/users":
			// every other user creation fails
			if atomic.AddInt64(&n, 1)%2 == 0 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/posts":
			w.WriteHeader(http.StatusCreated)
		default:
			w.Write(feedBody("1"))
		}
	}))
	defer srv.Close()

	cfg := testWorkload(2, 300*time.Millisecond)
	cfg.WriteProbability = 1
	d, err := New(cfg, testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	type key struct{ vu, iter int }
	userOK := map[key]bool{}
	var posts, failedUsers int
	for _, o := range res.Outcomes {
		k := key{o.VU, o.Iteration}
		switch o.Endpoint {
		case EndpointCreateUser:
			userOK[k] = o.Success
			if !o.Success {
				failedUsers++
			}
		case EndpointCreatePost:
			posts++
			assert.True(t, userOK[k], "post in vu %d iteration %d without a created user", o.VU, o.Iteration)
		}
	}
	assert.Greater(t, posts, 0)
	assert.Greater(t, failedUsers, 0)
}

func TestReadsDrawIndependentIDs(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/feed/"))
		if err == nil {
			mu.Lock()
			seen = append(seen, id)
			mu.Unlock()
		}
		w.Write(feedBody(strconv.Itoa(id)))
	}))
	defer srv.Close()

	cfg := testWorkload(1, 200*time.Millisecond)
	cfg.WriteProbability = 0
	cfg.IDPool = IDPool{Size: 2}
	d, err := New(cfg, testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, id := range seen {
		assert.True(t, id >= 1 && id <= 2, "id %d outside pool", id)
	}

	// With three reads from a pool of two, every iteration repeats an ID.
	byIter := map[int][]string{}
	for _, o := range res.Outcomes {
		byIter[o.Iteration] = append(byIter[o.Iteration], o.URL)
	}
	repeats := 0
	for _, urls := range byIter {
		if len(urls) == 3 && (urls[0] == urls[1] || urls[1] == urls[2] || urls[0] == urls[2]) {
			repeats++
		}
	}
	assert.Greater(t, repeats, 0)
}

func TestServerErrorsAreFailedOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testWorkload(2, 150*time.Millisecond)
	d, err := New(cfg, testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Outcomes)
	for _, o := range res.Outcomes {
		assert.False(t, o.Success)
		assert.Equal(t, http.StatusInternalServerError, o.Status)
		assert.NotEqual(t, EndpointCreatePost, o.Endpoint)
	}
}

func TestTimeoutIsRecordedNotRetried(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testWorkload(1, 100*time.Millisecond)
	cfg.WriteProbability = 0
	cfg.ReadsPerIteration = 1
	cfg.Timeout = 20 * time.Millisecond
	d, err := New(cfg, testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Outcomes)
	for _, o := range res.Outcomes {
		assert.False(t, o.Success)
		assert.NotEmpty(t, o.Err)
	}
	// no retries: the server never sees more requests than were recorded
	assert.LessOrEqual(t, atomic.LoadInt64(&hits), int64(len(res.Outcomes)))
}

func TestCancelStopsNewIterations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(feedBody("1"))
	}))
	defer srv.Close()

	cfg := testWorkload(2, time.Minute)
	d, err := New(cfg, testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = d.Run(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

type countingSink struct{ n int64 }

func (s *countingSink) Record(RequestOutcome) { atomic.AddInt64(&s.n, 1) }

func TestSinksSeeEveryOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(feedBody("1"))
	}))
	defer srv.Close()

	sink := &countingSink{}
	d, err := New(testWorkload(2, 100*time.Millisecond), testTarget(srv.URL),
		WithSink(sink), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(res.Outcomes)), atomic.LoadInt64(&sink.n))
}

func TestRequestsCarryRegionHeaders(t *testing.T) {
	headers := make(chan http.Header, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case headers <- r.Header.Clone():
		default:
		}
		w.Write(feedBody("1"))
	}))
	defer srv.Close()

	target := testTarget(srv.URL)
	target.Region = "tokyo"
	target.Headers = map[string]string{"X-Origin-Region": "Brazil"}
	cfg := testWorkload(1, 50*time.Millisecond)
	cfg.WriteProbability = 0
	d, err := New(cfg, target, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	require.NoError(t, err)

	h := <-headers
	assert.Equal(t, "tokyo", h.Get("X-Region"))
	assert.Equal(t, "feedload/tokyo", h.Get("User-Agent"))
	assert.Equal(t, "Brazil", h.Get("X-Origin-Region"))
	assert.NotEmpty(t, h.Get("X-Request-ID"))
}

func TestQueryStyleFeedAndPrefixedPool(t *testing.T) {
	users := make(chan string, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := r.URL.Query().Get("user_id")
		select {
		case users <- u:
		default:
		}
		w.Write(feedBody(u))
	}))
	defer srv.Close()

	target := testTarget(srv.URL)
	target.Endpoints[EndpointFeed] = "/feed?user_id={{userID}}"
	cfg := testWorkload(1, 50*time.Millisecond)
	cfg.WriteProbability = 0
	cfg.IDPool = IDPool{Size: 1000, Prefix: "br_user_"}
	d, err := New(cfg, target, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(<-users, "br_user_"))
}

func TestRunTwiceConcurrently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(feedBody("1"))
	}))
	defer srv.Close()

	d, err := New(testWorkload(1, 200*time.Millisecond), testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	_, err = d.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunning)
	<-done
}

func TestStagedRunFollowsRamp(t *testing.T) {
	var current, peak int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&current, 1)
		defer atomic.AddInt64(&current, -1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		w.Write(feedBody("1"))
	}))
	defer srv.Close()

	cfg := testWorkload(5, 0)
	cfg.WriteProbability = 0
	cfg.Stages = []Stage{
		{Duration: 150 * time.Millisecond, Target: 2},
		{Duration: 150 * time.Millisecond, Target: 2},
		{Duration: 100 * time.Millisecond, Target: 0},
	}
	d, err := New(cfg, testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Outcomes)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))

	// the first user joins half way through the first stage, the second at its end
	for _, o := range res.Outcomes {
		assert.Contains(t, []int{1, 2}, o.VU)
		assert.GreaterOrEqual(t, o.Timestamp.Sub(res.Started), 70*time.Millisecond)
		if o.VU == 2 {
			assert.GreaterOrEqual(t, o.Timestamp.Sub(res.Started), 145*time.Millisecond)
		}
	}
}

func TestIterationRateIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(feedBody("1"))
	}))
	defer srv.Close()

	const rateCap = 20
	duration := 500 * time.Millisecond

	cfg := testWorkload(5, duration)
	cfg.WriteProbability = 0
	cfg.ReadsPerIteration = 1
	cfg.MaxIterationRate = rateCap
	d, err := New(cfg, testTarget(srv.URL), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Outcomes)

	// one read per iteration, so outcomes count iterations; the limiter
	// allows a full burst up front
	burst := rateCap
	assert.LessOrEqual(t, len(res.Outcomes), int(rateCap*duration.Seconds())+burst)
}

func ExampleWorkloadConfig_TargetAt() {
	cfg := WorkloadConfig{Stages: []Stage{
		{Duration: 10 * time.Second, Target: 20},
		{Duration: 10 * time.Second, Target: 20},
		{Duration: 10 * time.Second, Target: 0},
	}}
	for _, s := range []int{0, 5, 15, 25, 30} {
		fmt.Println(cfg.TargetAt(time.Duration(s) * time.Second))
	}
	// Output:
	// 0
	// 10
	// 20
	// 10
	// 0
}
