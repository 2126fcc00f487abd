// Package storage handles persistence of subscribers.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"outage-notifier/pkg/outage"
)

// ErrNotFound is returned when a user has no stored record.
var ErrNotFound = errors.New("storage: user doesn't exist")

// IsNotFound checks if an error indicates a user was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Users is implemented by every backend.
type Users interface {
	Load(ctx context.Context, id int64) (*outage.User, error)
	Save(ctx context.Context, u *outage.User) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*outage.User, error)
	SetPaused(ctx context.Context, id int64, paused bool) (*outage.User, error)
	SetSubqueue(ctx context.Context, id int64, subqueue string) (*outage.User, error)
}

const keyPrefix = "user-"

// UserKey generates a stable object name from a chat id.
func UserKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10) + ".json"
}

// Store keeps one JSON object per user in Cloud Storage or a local directory.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	userLocks map[int64]*sync.Mutex
	localPath string
	bucket    string
	mu        sync.Mutex
}

// New creates a new storage handler. A non-empty localPath takes precedence over the bucket.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		userLocks: make(map[int64]*sync.Mutex),
		localPath: localPath,
		bucket:    bucket,
	}
}

// Save saves a user.
func (s *Store) Save(ctx context.Context, u *outage.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	key := UserKey(u.ID)
	s.logger.Debug("Saving user", "key", key, "user_id", u.ID)

	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		tmp := filePath + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := os.Rename(tmp, filePath); err != nil {
			return fmt.Errorf("rename in local storage: %w", err)
		}

		s.logger.Info("User saved to local storage", "path", filePath, "user_id", u.ID, "subqueue", u.Subqueue)
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("User saved", "key", key, "user_id", u.ID, "subqueue", u.Subqueue)
	return nil
}

// Load loads a user by chat id.
func (s *Store) Load(ctx context.Context, id int64) (*outage.User, error) {
	return s.load(ctx, UserKey(id))
}

func (s *Store) load(ctx context.Context, key string) (*outage.User, error) {
	var data []byte

	// Local filesystem storage
	if s.localPath != "" {
		var err error
		filePath := filepath.Join(s.localPath, key)
		data, err = os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		// Cloud Storage with retry logic for reliability
		var readData []byte
		notFound := false
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					// Don't retry on "not found" errors
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						notFound = true
						return retry.Unrecoverable(openErr)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if notFound {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	var u outage.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}

	return &u, nil
}

// Delete removes a user. Deleting a missing user is not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	key := UserKey(id)
	s.logger.Debug("Deleting user", "key", key, "user_id", id)

	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		s.logger.Info("User deleted from local storage", "path", filePath, "user_id", id)
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				// Don't retry on "not found" errors - deletion is idempotent
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying delete operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	s.logger.Info("User deleted", "key", key, "user_id", id)
	return nil
}

// List lists all users ordered by chat id. Unreadable records are logged and skipped.
func (s *Store) List(ctx context.Context) ([]*outage.User, error) {
	var users []*outage.User

	// Local filesystem storage
	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), keyPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}

			u, err := s.load(ctx, entry.Name())
			if err != nil {
				s.logger.Warn("Failed to load user", "file", entry.Name(), "error", err)
				continue
			}

			users = append(users, u)
		}
	} else {
		// Cloud Storage
		it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
			Prefix: keyPrefix,
		})

		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("iterate storage: %w", err)
			}

			u, err := s.load(ctx, attrs.Name)
			if err != nil {
				s.logger.Warn("Failed to load user", "key", attrs.Name, "error", err)
				continue
			}

			users = append(users, u)
		}
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// SetPaused updates a user's paused flag and returns the stored record.
func (s *Store) SetPaused(ctx context.Context, id int64, paused bool) (*outage.User, error) {
	return s.update(ctx, id, func(u *outage.User) { u.Paused = paused })
}

// SetSubqueue sets a user's subqueue, resumes them, and returns the stored record.
func (s *Store) SetSubqueue(ctx context.Context, id int64, subqueue string) (*outage.User, error) {
	if !outage.ValidSubqueue(subqueue) {
		return nil, fmt.Errorf("invalid subqueue %q", subqueue)
	}
	return s.update(ctx, id, func(u *outage.User) {
		u.Subqueue = subqueue
		u.Paused = false
	})
}

// userLock returns the mutex serialising read-modify-write cycles on one user's record.
func (s *Store) userLock(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[id] = l
	}
	return l
}

func (s *Store) update(ctx context.Context, id int64, fn func(*outage.User)) (*outage.User, error) {
	l := s.userLock(id)
	l.Lock()
	defer l.Unlock()

	u, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(u)
	if err := s.Save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
