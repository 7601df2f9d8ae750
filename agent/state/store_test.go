package state

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeUpstash emulates the Upstash REST surface closely enough for the
// GET/EVAL/DEL commands the store issues, including the compare-and-set
// semantics of the save script.
type fakeUpstash struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeUpstash() *fakeUpstash {
	return &fakeUpstash{data: map[string]string{}}
}

func (f *fakeUpstash) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected authorization header %q", got)
		}

		var cmd []any
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			t.Fatalf("decode command: %v", err)
		}
		name, _ := cmd[0].(string)

		f.mu.Lock()
		defer f.mu.Unlock()

		switch name {
		case "GET":
			key := cmd[1].(string)
			if val, ok := f.data[key]; ok {
				json.NewEncoder(w).Encode(map[string]any{"result": val})
			} else {
				json.NewEncoder(w).Encode(map[string]any{"result": nil})
			}
		case "EVAL":
			// args: script, numkeys, key, payload, turn_index, ttl
			key := cmd[3].(string)
			payload := cmd[4].(string)
			incoming := toInt(cmd[5])
			if cur, ok := f.data[key]; ok {
				var decoded map[string]any
				if err := json.Unmarshal([]byte(cur), &decoded); err == nil {
					if stored, ok := decoded["turn_index"].(float64); ok && int(stored) >= incoming {
						json.NewEncoder(w).Encode(map[string]any{"error": "turn_conflict"})
						return
					}
				}
			}
			f.data[key] = payload
			json.NewEncoder(w).Encode(map[string]any{"result": "OK"})
		case "DEL":
			key := cmd[1].(string)
			delete(f.data, key)
			json.NewEncoder(w).Encode(map[string]any{"result": 1})
		default:
			t.Errorf("unexpected command %q", name)
		}
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		parsed, _ := strconv.Atoi(n)
		return parsed
	default:
		return 0
	}
}

func newTestStore(t *testing.T) (*UpstashRedisStore, *fakeUpstash) {
	t.Helper()

	fake := newFakeUpstash()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{
		URL:     srv.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewUpstashRedisStore: %v", err)
	}
	return store, fake
}

func TestStoreLoadMissingThread(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	if _, err := store.Load(context.Background(), "b1:254700000000"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := NewConversationState("b1:254712345678", "b1", "c1", "254712345678", now)
	st.BeginTurn(now)
	st.MergeContext(Context{SlotProductType: "dress", SlotColor: "red"})
	st.AppendExchange("red dress please", "coming right up")

	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, st.ThreadID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TurnIndex != 1 {
		t.Errorf("turn_index = %d, want 1", loaded.TurnIndex)
	}
	if loaded.Context[SlotColor] != "red" {
		t.Errorf("context lost: %v", loaded.Context)
	}
	if len(loaded.History) != 2 {
		t.Errorf("history length = %d, want 2", len(loaded.History))
	}
}

func TestStoreSaveRejectsStaleTurn(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	st := NewConversationState("b1:254712345678", "b1", "c1", "254712345678", now)
	st.BeginTurn(now)
	st.BeginTurn(now) // turn 2
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("save turn 2: %v", err)
	}

	stale := NewConversationState("b1:254712345678", "b1", "c1", "254712345678", now)
	stale.BeginTurn(now) // turn 1
	if err := store.Save(ctx, stale); !errors.Is(err, ErrTurnConflict) {
		t.Fatalf("expected ErrTurnConflict for stale turn, got %v", err)
	}

	// Same turn index is a conflict too.
	same := NewConversationState("b1:254712345678", "b1", "c1", "254712345678", now)
	same.BeginTurn(now)
	same.BeginTurn(now)
	if err := store.Save(ctx, same); !errors.Is(err, ErrTurnConflict) {
		t.Fatalf("expected ErrTurnConflict for equal turn, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	st := NewConversationState("b1:254712345678", "b1", "c1", "254712345678", now)
	st.BeginTurn(now)
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, st.ThreadID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, st.ThreadID); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound after delete, got %v", err)
	}
}

func TestStoreRejectsBadInput(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, nil); !errors.Is(err, ErrNilState) {
		t.Errorf("expected ErrNilState, got %v", err)
	}
	if _, err := store.Load(ctx, "  "); !errors.Is(err, ErrInvalidThread) {
		t.Errorf("expected ErrInvalidThread, got %v", err)
	}
}

func TestStoreSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: srv.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewUpstashRedisStore: %v", err)
	}

	if _, err := store.Load(context.Background(), "b1:2547"); err == nil || errors.Is(err, ErrStateNotFound) {
		t.Fatalf("a 503 must not read as not-found, got %v", err)
	}
}
