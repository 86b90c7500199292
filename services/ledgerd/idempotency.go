package ledgerd

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const IdempotencyHeader = "Idempotency-Key"

var bucketIdempotency = []byte("idempotency")

// IdempotencyRecord stores the response returned for an idempotency key
// together with a fingerprint of the request body it answered.
type IdempotencyRecord struct {
	StatusCode  int       `json:"statusCode"`
	Body        []byte    `json:"body"`
	RequestHash string    `json:"requestHash"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IdempotencyStore persists transaction responses in a Bolt database so a
// retried submission returns the first outcome instead of failing on nonce.
type IdempotencyStore struct {
	db *bolt.DB
}

// OpenIdempotencyStore opens (and creates) the Bolt file at path.
func OpenIdempotencyStore(path string) (*IdempotencyStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &IdempotencyStore{db: db}, nil
}

// Close releases the Bolt handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached response for key. Expired entries are removed.
func (s *IdempotencyStore) Get(key string, now time.Time) (IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if now.After(record.ExpiresAt) {
			record = IdempotencyRecord{}
			return bucket.Delete([]byte(key))
		}
		found = true
		return nil
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return record, found, nil
}

// Put stores record under key.
func (s *IdempotencyStore) Put(key string, record IdempotencyRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIdempotency).Put([]byte(key), payload)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// withIdempotency replays the stored response for a repeated
// Idempotency-Key. A key reused with a different body is rejected with 422.
// Requests without the header pass through.
func (s *Server) withIdempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if key == "" || s.idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "", "request body could not be read")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		fingerprint := requestHash(body)

		now := s.nowFn()
		if record, ok, err := s.idempotency.Get(key, now); err != nil {
			s.logger.Error("ledgerd.idempotency_lookup_failed", "error", err.Error())
		} else if ok && record.RequestHash != "" && record.RequestHash != fingerprint {
			writeError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "", "idempotency key was used with a different request")
			return
		} else if ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(record.StatusCode)
			_, _ = w.Write(record.Body)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		if recorder.status == http.StatusTooManyRequests || recorder.status == http.StatusInternalServerError {
			return
		}
		record := IdempotencyRecord{
			StatusCode:  recorder.status,
			Body:        recorder.buf.Bytes(),
			RequestHash: fingerprint,
			StoredAt:    now,
			ExpiresAt:   now.Add(s.idempotencyTTL),
		}
		if err := s.idempotency.Put(key, record); err != nil {
			s.logger.Error("ledgerd.idempotency_store_failed", "error", err.Error())
		}
	})
}
