package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"

	"github.com/taskdock/taskdock/internal/debounce"
)

// ErrNotConfigured marks a remote operation attempted before credentials
// were supplied. It is surfaced to the caller, never retried.
var ErrNotConfigured = errors.New("github sync is not configured")

const (
	defaultPushDelay          = 10 * time.Second
	defaultMaxConflictRetries = 5
)

// Credentials are the remote coordinates and access token.
type Credentials struct {
	Token  string
	Owner  string
	Repo   string
	Branch string
	// Path of the replicated document inside the repository.
	Path string
}

// SyncStatus is a point-in-time snapshot of the service state.
type SyncStatus struct {
	Configured  bool
	PendingPush bool
	InFlight    bool
	LastPush    time.Time
	LastError   error
}

// ServiceOptions configures a SyncService.
type ServiceOptions struct {
	// PushDelay is the debounce window for outbound pushes.
	PushDelay time.Duration
	// MaxConflictRetries bounds reschedule-on-conflict; when exhausted the
	// conflict is surfaced through the error callback.
	MaxConflictRetries int
	// ClientOptions are applied to clients built by Configure.
	ClientOptions ClientOptions
	Logger        *slog.Logger
}

// SyncService replicates a serialized document snapshot to a GitHub
// repository. Per file the state machine is Idle -> PendingPush (debounce
// armed) -> Pushing -> (Idle | Conflict -> PendingPush). The revision
// cursor and the in-flight flag are owned exclusively by this service.
type SyncService struct {
	logger             *slog.Logger
	clientOpts         ClientOptions
	maxConflictRetries int

	mu          sync.Mutex
	client      *Client
	creds       Credentials
	cursor      string
	cursorValid bool
	isSyncing   bool
	pending     []byte
	hasPending  bool
	retries     int
	retryTimer  *time.Timer
	lastPush    time.Time
	lastErr     error
	onSuccess   func(time.Time)
	onError     func(error)

	deb       *debounce.Debouncer
	bo        *backoff.ExponentialBackOff
	scheduler *cron.Cron
	snapshot  func() ([]byte, error)
}

// NewSyncService creates an unconfigured service; Configure must be called
// before any remote operation.
func NewSyncService(opts ServiceOptions) *SyncService {
	delay := opts.PushDelay
	if delay <= 0 {
		delay = defaultPushDelay
	}
	maxRetries := opts.MaxConflictRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxConflictRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second

	s := &SyncService{
		logger:             logger.With("component", "github_sync"),
		clientOpts:         opts.ClientOptions,
		maxConflictRetries: maxRetries,
		bo:                 bo,
	}
	s.deb = debounce.New(delay, s.executePush)
	return s
}

// Configure stores the token and target coordinates and resets the cached
// revision cursor, forcing a fetch before the next write.
func (s *SyncService) Configure(creds Credentials, onSuccess func(time.Time), onError func(error)) error {
	if creds.Token == "" || creds.Owner == "" || creds.Repo == "" {
		return fmt.Errorf("token, owner, and repo are required: %w", ErrNotConfigured)
	}
	if creds.Path == "" {
		creds.Path = "tasks.json"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.client = NewClient(creds.Token, s.clientOpts)
	s.cursor = ""
	s.cursorValid = false
	s.retries = 0
	s.lastErr = nil
	s.onSuccess = onSuccess
	s.onError = onError
	s.bo.Reset()
	return nil
}

// SetSnapshotFunc supplies the content provider used by scheduled pushes.
func (s *SyncService) SetSnapshotFunc(fn func() ([]byte, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = fn
}

// Configured reports whether credentials have been supplied.
func (s *SyncService) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Disable drops credentials and cancels any pending work.
func (s *SyncService) Disable() {
	s.StopSchedule()
	s.deb.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.client = nil
	s.creds = Credentials{}
	s.pending = nil
	s.hasPending = false
	s.cursorValid = false
}

// SchedulePush stores content as the latest pending payload, overwriting
// any earlier one, and re-arms the debounce timer. Repeated calls within
// the window coalesce into a single push carrying the newest snapshot.
func (s *SyncService) SchedulePush(content []byte) {
	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return
	}
	s.pending = content
	s.hasPending = true
	s.mu.Unlock()
	s.deb.Trigger()
}

// PushNow cancels any pending timer and executes the push immediately,
// awaited. Used for explicit user-triggered sync.
func (s *SyncService) PushNow(content []byte) error {
	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return ErrNotConfigured
	}
	s.pending = content
	s.hasPending = true
	s.mu.Unlock()
	s.executePush()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Flush cancels the timer and, if a payload is pending, executes the push
// immediately. Used at shutdown.
func (s *SyncService) Flush() error {
	s.deb.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// executePush is the single push path. The isSyncing flag guarantees at
// most one in-flight remote write: a push requested while another runs is
// rescheduled, not executed concurrently.
func (s *SyncService) executePush() {
	s.mu.Lock()
	if s.client == nil || !s.hasPending {
		s.mu.Unlock()
		return
	}
	if s.isSyncing {
		s.mu.Unlock()
		s.deb.Trigger()
		return
	}
	s.isSyncing = true
	content := s.pending
	s.pending = nil
	s.hasPending = false
	client := s.client
	creds := s.creds
	cursor := s.cursor
	cursorValid := s.cursorValid
	s.mu.Unlock()

	newSHA, err := s.push(client, creds, content, cursor, cursorValid)

	s.mu.Lock()
	s.isSyncing = false
	rearm := s.hasPending

	var conflict *ConflictError
	switch {
	case err == nil:
		s.cursor = newSHA
		s.cursorValid = true
		s.retries = 0
		s.bo.Reset()
		s.lastPush = time.Now()
		s.lastErr = nil
		onSuccess := s.onSuccess
		when := s.lastPush
		s.mu.Unlock()
		s.logger.Info("push completed", "path", creds.Path, "sha", newSHA)
		if onSuccess != nil {
			onSuccess(when)
		}

	case errors.As(err, &conflict):
		// Conflict recovery: drop the cursor so the next attempt fetches a
		// fresh one, then reschedule the same content with backoff. Retries
		// are bounded; exhaustion surfaces the conflict instead of looping.
		s.cursorValid = false
		s.cursor = ""
		s.retries++
		if s.retries > s.maxConflictRetries {
			s.retries = 0
			s.lastErr = fmt.Errorf("giving up after %d conflict retries: %w", s.maxConflictRetries, err)
			onError := s.onError
			lastErr := s.lastErr
			s.mu.Unlock()
			s.logger.Error("conflict retries exhausted", "path", creds.Path, "error", err)
			if onError != nil {
				onError(lastErr)
			}
			return
		}
		if !s.hasPending {
			s.pending = content
			s.hasPending = true
		}
		attempt := s.retries
		delay := s.bo.NextBackOff()
		if s.retryTimer != nil {
			s.retryTimer.Stop()
		}
		s.retryTimer = time.AfterFunc(delay, s.executePush)
		s.mu.Unlock()
		s.logger.Warn("revision conflict, rescheduling push", "path", creds.Path, "attempt", attempt, "delay", delay)
		return

	default:
		s.lastErr = err
		onError := s.onError
		s.mu.Unlock()
		s.logger.Error("push failed", "path", creds.Path, "error", err)
		if onError != nil {
			onError(err)
		}
	}

	if rearm {
		s.deb.Trigger()
	}
}

// push performs one fetch-cursor-then-conditional-write round trip.
func (s *SyncService) push(client *Client, creds Credentials, content []byte, cursor string, cursorValid bool) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if !cursorValid {
		contents, err := client.Contents(ctx, creds.Owner, creds.Repo, creds.Path)
		switch {
		case errors.Is(err, ErrNotFound):
			cursor = "" // first-time creation
		case err != nil:
			return "", fmt.Errorf("fetch revision cursor: %w", err)
		default:
			cursor = contents.SHA
		}
	}

	return client.PutContents(ctx, creds.Owner, creds.Repo, creds.Path, PutOptions{
		Message: fmt.Sprintf("taskdock sync %s", time.Now().UTC().Format(time.RFC3339)),
		Content: content,
		SHA:     cursor,
		Branch:  creds.Branch,
	})
}

// EnsureRepo checks the target repository and provisions it when missing:
// the repository itself, an initial document, and a README.
func (s *SyncService) EnsureRepo(ctx context.Context, initialDocument []byte) error {
	s.mu.Lock()
	client := s.client
	creds := s.creds
	s.mu.Unlock()
	if client == nil {
		return ErrNotConfigured
	}

	exists, err := client.RepoExists(ctx, creds.Owner, creds.Repo)
	if err != nil {
		return fmt.Errorf("check repository: %w", err)
	}
	if exists {
		return nil
	}

	if err := client.CreateRepo(ctx, creds.Repo, true); err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	readme := []byte("# taskdock\n\nReplicated task store. Do not edit by hand.\n")
	if _, err := client.PutContents(ctx, creds.Owner, creds.Repo, "README.md", PutOptions{
		Message: "taskdock: provision repository",
		Content: readme,
		Branch:  creds.Branch,
	}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("provision README: %w", err)
	}
	if len(initialDocument) > 0 {
		sha, err := client.PutContents(ctx, creds.Owner, creds.Repo, creds.Path, PutOptions{
			Message: "taskdock: provision document",
			Content: initialDocument,
			Branch:  creds.Branch,
		})
		if err != nil {
			return fmt.Errorf("provision document: %w", err)
		}
		s.mu.Lock()
		s.cursor = sha
		s.cursorValid = true
		s.mu.Unlock()
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 422
}

// Identity returns the login of the configured token's user.
func (s *SyncService) Identity(ctx context.Context) (string, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return "", ErrNotConfigured
	}
	return client.User(ctx)
}

// StartSchedule arms a periodic push of a fresh snapshot on the given cron
// expression. Used as a safety net when autoSync is enabled.
func (s *SyncService) StartSchedule(spec string) error {
	s.mu.Lock()
	snapshot := s.snapshot
	s.mu.Unlock()
	if snapshot == nil {
		return fmt.Errorf("no snapshot function set")
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(spec, func() {
		content, err := snapshot()
		if err != nil {
			s.logger.Warn("scheduled snapshot failed", "error", err)
			return
		}
		s.SchedulePush(content)
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.scheduler = scheduler
	s.mu.Unlock()
	scheduler.Start()
	return nil
}

// StopSchedule cancels the periodic push.
func (s *SyncService) StopSchedule() {
	s.mu.Lock()
	scheduler := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()
	if scheduler != nil {
		scheduler.Stop()
	}
}

// Status reports a snapshot of the service state.
func (s *SyncService) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStatus{
		Configured:  s.client != nil,
		PendingPush: s.hasPending,
		InFlight:    s.isSyncing,
		LastPush:    s.lastPush,
		LastError:   s.lastErr,
	}
}
