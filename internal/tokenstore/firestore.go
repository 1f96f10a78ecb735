package tokenstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/aetherfit/aetherfit-front/internal/crypto"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ Storage = (*FirestoreStorage)(nil)

// TokenDoc is the Firestore document holding one encrypted token
type TokenDoc struct {
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreConfig selects the project, database and collection for tokens.
type FirestoreConfig struct {
	ProjectID       string
	Database        string
	Collection      string
	CredentialsFile string
}

// FirestoreStorage keeps one encrypted document per key in Google Cloud
// Firestore, so sessions survive restarts and are shared between replicas.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
	encryptor  crypto.Encryptor
	now        func() time.Time
}

// NewFirestoreStorage creates a new Firestore token storage
func NewFirestoreStorage(ctx context.Context, cfg FirestoreConfig, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var client *firestore.Client
	var err error
	if cfg.Database != "" && cfg.Database != firestore.DefaultDatabaseID {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.Database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, cfg.ProjectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("tokenstore", "Firestore token storage connected", map[string]any{
		"project":    cfg.ProjectID,
		"database":   cfg.Database,
		"collection": cfg.Collection,
	})

	return &FirestoreStorage{
		client:     client,
		collection: cfg.Collection,
		encryptor:  encryptor,
		now:        time.Now,
	}, nil
}

func (s *FirestoreStorage) Get(ctx context.Context, key string) (string, error) {
	doc, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get token from Firestore: %w", err)
	}

	var td TokenDoc
	if err := doc.DataTo(&td); err != nil {
		return "", fmt.Errorf("failed to unmarshal token: %w", err)
	}
	value, err := s.encryptor.Decrypt(td.Value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}
	return value, nil
}

func (s *FirestoreStorage) Set(ctx context.Context, key, value string) error {
	sealed, err := s.encryptor.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	_, err = s.client.Collection(s.collection).Doc(key).Set(ctx, TokenDoc{
		Value:     sealed,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store token in Firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) Delete(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(key).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete token from Firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) Sweep(ctx context.Context, cutoff time.Time, keep func(string) bool) (int, error) {
	iter := s.client.Collection(s.collection).Where("updated_at", "<", cutoff).Documents(ctx)
	defer iter.Stop()

	removed := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("error iterating Firestore documents: %w", err)
		}
		if keep != nil && keep(doc.Ref.ID) {
			continue
		}
		if _, err := doc.Ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			log.LogErrorWithFields("tokenstore", "Failed to delete stale token", map[string]any{
				"key":   doc.Ref.ID,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
