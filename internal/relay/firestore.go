package relay

import (
	"context"
	"os"
	"sync"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "peercall-core/pkg/errors"
)

// FirestoreClient implements Client over Cloud Firestore. Document snapshot
// streams give exactly the ordering contract the call core needs: snapshots
// per record arrive in commit order, and the final state is always observed.
type FirestoreClient struct {
	client *firestore.Client
	log    *zap.Logger
}

// FirestoreConfig holds connection settings for the relay backend.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsPath string // service account JSON; empty uses ambient credentials
}

// NewFirestoreClient connects to the Firestore project backing the relay.
func NewFirestoreClient(ctx context.Context, cfg *FirestoreConfig, log *zap.Logger) (*FirestoreClient, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		credentials, err := os.ReadFile(cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsJSON(credentials))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, err
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, err
	}

	log.Info("Connected to Firestore relay", zap.String("project_id", cfg.ProjectID))

	return &FirestoreClient{client: client, log: log}, nil
}

// Create appends a new record and returns its generated document id.
func (f *FirestoreClient) Create(ctx context.Context, collection string, data any) (string, error) {
	doc := f.client.Collection(collection).NewDoc()
	if _, err := doc.Create(ctx, data); err != nil {
		return "", apperrors.RelayWriteError(err)
	}
	return doc.ID, nil
}

// Get reads a record by id into out.
func (f *FirestoreClient) Get(ctx context.Context, collection, id string, out any) error {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return err
	}
	return snap.DataTo(out)
}

// Update applies a partial field update to an existing record.
func (f *FirestoreClient) Update(ctx context.Context, collection, id string, patch []Update) error {
	updates := make([]firestore.Update, len(patch))
	for i, u := range patch {
		updates[i] = firestore.Update{Path: u.Field, Value: u.Value}
	}
	if _, err := f.client.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		return apperrors.RelayWriteError(err)
	}
	return nil
}

// Watch subscribes to one record's snapshot stream.
func (f *FirestoreClient) Watch(ctx context.Context, collection, id string) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &firestoreSub{
		ch:     make(chan Snapshot, 16),
		cancel: cancel,
	}

	iter := f.client.Collection(collection).Doc(id).Snapshots(ctx)
	go func() {
		defer close(sub.ch)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					f.log.Warn("Relay record watch ended",
						zap.String("collection", collection),
						zap.String("id", id),
						zap.Error(err))
				}
				return
			}
			select {
			case sub.ch <- NewSnapshot(snap.Ref.ID, snap.Exists(), snap.DataTo):
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// Query returns records matching all equality filters.
func (f *FirestoreClient) Query(ctx context.Context, collection string, filters []Filter) ([]Snapshot, error) {
	q := f.buildQuery(collection, filters)
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, len(docs))
	for i, d := range docs {
		out[i] = NewSnapshot(d.Ref.ID, d.Exists(), d.DataTo)
	}
	return out, nil
}

// WatchQuery subscribes to the matching result set of a filtered query.
func (f *FirestoreClient) WatchQuery(ctx context.Context, collection string, filters []Filter) (QuerySubscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &firestoreQuerySub{
		ch:     make(chan []Snapshot, 4),
		cancel: cancel,
	}

	iter := f.buildQuery(collection, filters).Snapshots(ctx)
	go func() {
		defer close(sub.ch)
		defer iter.Stop()
		for {
			qsnap, err := iter.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					f.log.Warn("Relay query watch ended",
						zap.String("collection", collection),
						zap.Error(err))
				}
				return
			}
			results, err := f.collectDocs(qsnap)
			if err != nil {
				f.log.Warn("Relay query snapshot read failed", zap.Error(err))
				continue
			}
			select {
			case sub.ch <- results:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// Close releases the Firestore connection.
func (f *FirestoreClient) Close() error {
	return f.client.Close()
}

func (f *FirestoreClient) buildQuery(collection string, filters []Filter) firestore.Query {
	q := f.client.Collection(collection).Query
	for _, flt := range filters {
		q = q.Where(flt.Field, "==", flt.Value)
	}
	return q
}

func (f *FirestoreClient) collectDocs(qsnap *firestore.QuerySnapshot) ([]Snapshot, error) {
	var out []Snapshot
	for {
		doc, err := qsnap.Documents.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, NewSnapshot(doc.Ref.ID, doc.Exists(), doc.DataTo))
	}
}

type firestoreSub struct {
	ch     chan Snapshot
	cancel context.CancelFunc
	once   sync.Once
}

func (s *firestoreSub) Snapshots() <-chan Snapshot { return s.ch }

func (s *firestoreSub) Stop() { s.once.Do(s.cancel) }

type firestoreQuerySub struct {
	ch     chan []Snapshot
	cancel context.CancelFunc
	once   sync.Once
}

func (s *firestoreQuerySub) Results() <-chan []Snapshot { return s.ch }

func (s *firestoreQuerySub) Stop() { s.once.Do(s.cancel) }
