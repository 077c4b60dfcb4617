package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"calvoice/app/config"

	"github.com/samber/do"
)

var ErrNotFound = errors.New("not found")

// Service persists conversation history (append-only JSON lines per user) and
// calendar credentials (one JSON document per user) under the data directory.
// All access is serialized per service instance; append-then-read consistency
// is all the agent loop needs.
type Service struct {
	cfg *config.Config
	mu  sync.RWMutex
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	for _, dir := range []string{historyDir(cfg), credentialsDir(cfg)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	return &Service{
		cfg: cfg,
	}, nil
}

func historyDir(cfg *config.Config) string {
	return filepath.Join(cfg.Store.Dir, "history")
}

func credentialsDir(cfg *config.Config) string {
	return filepath.Join(cfg.Store.Dir, "credentials")
}

func sanitizeUserID(userID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, userID)
}

func (s *Service) historyPath(userID string) string {
	return filepath.Join(historyDir(s.cfg), sanitizeUserID(userID)+".jsonl")
}

func (s *Service) credentialsPath(userID string) string {
	return filepath.Join(credentialsDir(s.cfg), sanitizeUserID(userID)+".json")
}

func (s *Service) Append(userID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.historyPath(userID), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	if _, err = file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write turn: %w", err)
	}

	return nil
}

// Recent returns the last limit turns for the user in chronological order.
func (s *Service) Recent(userID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Open(s.historyPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	var turns []Turn

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var turn Turn
		if err = json.Unmarshal([]byte(line), &turn); err != nil {
			return nil, fmt.Errorf("failed to parse history line: %w", err)
		}

		turns = append(turns, turn)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading history file: %w", err)
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	return turns, nil
}

func (s *Service) Clear(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.historyPath(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	return nil
}

func (s *Service) GetCalendarCredentials(userID string) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.credentialsPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds Credentials
	if err = json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return creds, nil
}

func (s *Service) SetCalendarCredentials(userID string, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err = os.WriteFile(s.credentialsPath(userID), data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	return nil
}
