package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote simulates the contents API for one file with real revision
// semantics: a conditional PUT whose sha does not match the current revision
// is rejected with 409.
type fakeRemote struct {
	mu        sync.Mutex
	sha       string
	content   []byte
	revs      int
	gets      int
	puts      int
	conflict  int // number of upcoming PUTs to reject regardless of sha
	putDelay  time.Duration
	inFlight  int32
	maxFlight int32
}

func (f *fakeRemote) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/contents/") {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			defer f.mu.Unlock()
			f.gets++
			if f.sha == "" {
				http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"sha":      f.sha,
				"content":  base64.StdEncoding.EncodeToString(f.content),
				"encoding": "base64",
			})

		case http.MethodPut:
			cur := atomic.AddInt32(&f.inFlight, 1)
			for {
				max := atomic.LoadInt32(&f.maxFlight)
				if cur <= max || atomic.CompareAndSwapInt32(&f.maxFlight, max, cur) {
					break
				}
			}
			defer atomic.AddInt32(&f.inFlight, -1)

			f.mu.Lock()
			delay := f.putDelay
			f.mu.Unlock()
			if delay > 0 {
				time.Sleep(delay)
			}

			var body struct {
				Content string `json:"content"`
				SHA     string `json:"sha"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)

			f.mu.Lock()
			defer f.mu.Unlock()
			f.puts++
			if f.conflict > 0 || body.SHA != f.sha {
				f.conflict--
				if f.conflict < 0 {
					f.conflict = 0
				}
				http.Error(w, `{"message":"does not match"}`, http.StatusConflict)
				return
			}
			raw, _ := base64.StdEncoding.DecodeString(body.Content)
			f.content = raw
			f.revs++
			f.sha = fmt.Sprintf("rev-%d", f.revs)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": map[string]string{"sha": f.sha},
			})

		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeRemote) counts() (gets, puts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.puts
}

func (f *fakeRemote) contents() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.content)
}

func testSyncService(t *testing.T, remote *fakeRemote, opts ServiceOptions) *SyncService {
	t.Helper()
	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)

	opts.ClientOptions.BaseURL = srv.URL
	svc := NewSyncService(opts)
	t.Cleanup(svc.Disable)

	err := svc.Configure(Credentials{
		Token: "t", Owner: "alice", Repo: "tasks", Branch: "main", Path: "tasks.json",
	}, nil, nil)
	require.NoError(t, err)
	return svc
}

func waitStatus(t *testing.T, svc *SyncService, cond func(SyncStatus) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond(svc.Status()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status condition not met, last status %+v", svc.Status())
}

func TestSync_ConfigureValidation(t *testing.T) {
	svc := NewSyncService(ServiceOptions{})
	err := svc.Configure(Credentials{Owner: "a", Repo: "b"}, nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, svc.Configured())

	require.NoError(t, svc.Configure(Credentials{Token: "t", Owner: "a", Repo: "b"}, nil, nil))
	assert.True(t, svc.Configured())
	assert.Equal(t, "tasks.json", svc.creds.Path, "path should default")

	svc.Disable()
	assert.False(t, svc.Configured())
	assert.ErrorIs(t, svc.PushNow([]byte("x")), ErrNotConfigured)
}

func TestSync_FirstPushFetchesCursor(t *testing.T) {
	remote := &fakeRemote{}
	svc := testSyncService(t, remote, ServiceOptions{PushDelay: 20 * time.Millisecond})

	require.NoError(t, svc.PushNow([]byte(`{"v":1}`)))

	gets, puts := remote.counts()
	assert.Equal(t, 1, gets, "first push must fetch the cursor")
	assert.Equal(t, 1, puts)
	assert.Equal(t, `{"v":1}`, remote.contents())

	// The returned sha is cached: the next push skips the GET.
	require.NoError(t, svc.PushNow([]byte(`{"v":2}`)))
	gets, puts = remote.counts()
	assert.Equal(t, 1, gets, "cached cursor must avoid a second fetch")
	assert.Equal(t, 2, puts)
	assert.Equal(t, `{"v":2}`, remote.contents())
}

func TestSync_DebounceCoalescesToNewestContent(t *testing.T) {
	remote := &fakeRemote{}
	svc := testSyncService(t, remote, ServiceOptions{PushDelay: 50 * time.Millisecond})

	for i := 1; i <= 5; i++ {
		svc.SchedulePush([]byte(fmt.Sprintf(`{"v":%d}`, i)))
		time.Sleep(5 * time.Millisecond)
	}

	waitStatus(t, svc, func(st SyncStatus) bool { return !st.LastPush.IsZero() })

	_, puts := remote.counts()
	assert.Equal(t, 1, puts, "burst must coalesce into one push")
	assert.Equal(t, `{"v":5}`, remote.contents(), "push must carry the newest snapshot")
}

func TestSync_ConflictRecovery(t *testing.T) {
	remote := &fakeRemote{sha: "rev-0", content: []byte("remote")}
	remote.conflict = 1
	svc := testSyncService(t, remote, ServiceOptions{PushDelay: 10 * time.Millisecond})

	var successes int32
	require.NoError(t, svc.Configure(Credentials{
		Token: "t", Owner: "alice", Repo: "tasks", Branch: "main", Path: "tasks.json",
	}, func(time.Time) { atomic.AddInt32(&successes, 1) }, nil))

	svc.SchedulePush([]byte(`{"v":1}`))

	waitStatus(t, svc, func(st SyncStatus) bool { return !st.LastPush.IsZero() })

	gets, puts := remote.counts()
	assert.Equal(t, 2, puts, "one rejected PUT and one retry")
	assert.Equal(t, 2, gets, "the cursor must be refetched between the conflict and the retry")
	assert.Equal(t, `{"v":1}`, remote.contents(), "local content wins after recovery")
	assert.EqualValues(t, 1, atomic.LoadInt32(&successes))
	assert.NoError(t, svc.Status().LastError)
}

func TestSync_ConflictRetriesBounded(t *testing.T) {
	remote := &fakeRemote{sha: "rev-0", content: []byte("remote")}
	remote.conflict = 100
	svc := testSyncService(t, remote, ServiceOptions{
		PushDelay:          10 * time.Millisecond,
		MaxConflictRetries: 1,
	})

	errCh := make(chan error, 1)
	require.NoError(t, svc.Configure(Credentials{
		Token: "t", Owner: "alice", Repo: "tasks", Branch: "main", Path: "tasks.json",
	}, nil, func(err error) { errCh <- err }))

	svc.SchedulePush([]byte(`{"v":1}`))

	select {
	case err := <-errCh:
		var conflict *ConflictError
		assert.ErrorAs(t, err, &conflict)
		assert.Contains(t, err.Error(), "giving up")
	case <-time.After(10 * time.Second):
		t.Fatal("error callback never fired")
	}

	// The service must be idle afterwards, not looping.
	_, putsBefore := remote.counts()
	time.Sleep(100 * time.Millisecond)
	_, putsAfter := remote.counts()
	assert.Equal(t, putsBefore, putsAfter, "pushes continued after retries were exhausted")
}

func TestSync_AtMostOneInFlight(t *testing.T) {
	remote := &fakeRemote{putDelay: 100 * time.Millisecond}
	svc := testSyncService(t, remote, ServiceOptions{PushDelay: 10 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		_ = svc.PushNow([]byte(`{"v":1}`))
		close(done)
	}()

	// While the first push blocks in the server, request more.
	time.Sleep(30 * time.Millisecond)
	svc.SchedulePush([]byte(`{"v":2}`))
	svc.SchedulePush([]byte(`{"v":3}`))

	<-done
	waitStatus(t, svc, func(st SyncStatus) bool {
		return !st.PendingPush && !st.InFlight && remote.contents() == `{"v":3}`
	})

	assert.EqualValues(t, 1, atomic.LoadInt32(&remote.maxFlight), "writes overlapped")
	_, puts := remote.counts()
	assert.Equal(t, 2, puts, "the queued requests must coalesce into one follow-up push")
}

func TestSync_NonConflictErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	svc := NewSyncService(ServiceOptions{
		PushDelay:     10 * time.Millisecond,
		ClientOptions: ClientOptions{BaseURL: srv.URL},
	})
	defer svc.Disable()

	errCh := make(chan error, 1)
	require.NoError(t, svc.Configure(Credentials{Token: "bad", Owner: "a", Repo: "b"},
		nil, func(err error) { errCh <- err }))

	err := svc.PushNow([]byte("x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	select {
	case cbErr := <-errCh:
		assert.ErrorAs(t, cbErr, &apiErr)
	case <-time.After(time.Second):
		t.Fatal("error callback never fired")
	}
}

func TestSync_EnsureRepoProvisionsMissingRepo(t *testing.T) {
	var created bool
	var mu sync.Mutex
	files := map[string]string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/alice/tasks":
			if !created {
				http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/user/repos":
			created = true
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/contents/"):
			var body struct {
				Content string `json:"content"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			raw, _ := base64.StdEncoding.DecodeString(body.Content)
			parts := strings.SplitN(r.URL.Path, "/contents/", 2)
			files[parts[1]] = string(raw)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": map[string]string{"sha": "seed-sha"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc := NewSyncService(ServiceOptions{ClientOptions: ClientOptions{BaseURL: srv.URL}})
	defer svc.Disable()
	require.NoError(t, svc.Configure(Credentials{
		Token: "t", Owner: "alice", Repo: "tasks", Branch: "main", Path: "tasks.json",
	}, nil, nil))

	require.NoError(t, svc.EnsureRepo(context.Background(), []byte(`{"tasks":[]}`)))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, created, "repository was not created")
	assert.Contains(t, files, "README.md")
	assert.Equal(t, `{"tasks":[]}`, files["tasks.json"])
}

func TestSync_EnsureRepoSkipsExisting(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			atomic.AddInt32(&posts, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewSyncService(ServiceOptions{ClientOptions: ClientOptions{BaseURL: srv.URL}})
	defer svc.Disable()
	require.NoError(t, svc.Configure(Credentials{Token: "t", Owner: "alice", Repo: "tasks"}, nil, nil))

	require.NoError(t, svc.EnsureRepo(context.Background(), []byte("doc")))
	assert.Zero(t, atomic.LoadInt32(&posts), "existing repository must not be recreated")
}

func TestSync_FlushPushesPendingPayload(t *testing.T) {
	remote := &fakeRemote{}
	svc := testSyncService(t, remote, ServiceOptions{PushDelay: time.Hour})

	svc.SchedulePush([]byte(`{"v":1}`))
	require.True(t, svc.Status().PendingPush)

	require.NoError(t, svc.Flush())

	_, puts := remote.counts()
	assert.Equal(t, 1, puts)
	assert.Equal(t, `{"v":1}`, remote.contents())
	assert.False(t, svc.Status().PendingPush)
}

func TestSync_SchedulePushIgnoredWhenUnconfigured(t *testing.T) {
	svc := NewSyncService(ServiceOptions{PushDelay: 10 * time.Millisecond})
	defer svc.Disable()

	svc.SchedulePush([]byte("x"))
	assert.False(t, svc.Status().PendingPush)
}
