package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/stream"
)

const (
	ridesCollection  = "rideRequests"
	offersCollection = "driverRequests"
)

var activeStatuses = []string{
	string(models.StatusWaiting),
	string(models.StatusAssigned),
	string(models.StatusActive),
}

// FirestoreStore backs RideStore with Firestore documents and snapshot
// listeners, the native push channel of the platform.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewFirestoreStore connects to projectID. An empty credentialsFile uses the
// ambient application default credentials.
func NewFirestoreStore(ctx context.Context, projectID, credentialsFile string, logger *slog.Logger) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreStore{client: c, logger: logger}, nil
}

func (s *FirestoreStore) Close() error { return s.client.Close() }

func (s *FirestoreStore) rides() *firestore.CollectionRef { return s.client.Collection(ridesCollection) }

func (s *FirestoreStore) Create(ctx context.Context, r models.RideRequest) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.rides().Doc(r.ID).Create(ctx, r)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %s", ErrExists, r.ID)
	}
	if err != nil {
		return fmt.Errorf("create ride %s: %w", r.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (models.RideRequest, error) {
	snap, err := s.rides().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.RideRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.RideRequest{}, fmt.Errorf("get ride %s: %w", id, err)
	}
	return decodeRide(snap)
}

func (s *FirestoreStore) Update(ctx context.Context, id string, m Mutation) (models.RideRequest, error) {
	ref := s.rides().Doc(id)
	var out models.RideRequest
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		cur, err := decodeRide(snap)
		if err != nil {
			return err
		}
		if err := m.ApplyTo(&cur); err != nil {
			return err
		}
		out = cur
		return tx.Set(ref, cur)
	})
	if err != nil {
		return models.RideRequest{}, err
	}
	return out, nil
}

func (s *FirestoreStore) Subscribe(ctx context.Context, id string) (*stream.Subscription[models.RideRequest], error) {
	sub := stream.New[models.RideRequest](ctx, 8)
	it := s.rides().Doc(id).Snapshots(sub.Context())
	sub.OnUnsubscribe(it.Stop)

	go func() {
		for {
			snap, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled && !errors.Is(err, context.Canceled) {
					sub.Fail(err)
				}
				sub.Unsubscribe()
				return
			}
			if !snap.Exists() {
				continue
			}
			r, err := decodeRide(snap)
			if err != nil {
				s.logger.Warn("dropping undecodable ride snapshot", "ride_id", id, "error", err)
				continue
			}
			if !sub.Send(r) {
				return
			}
		}
	}()
	return sub, nil
}

func (s *FirestoreStore) activeQuery(passengerID string) firestore.Query {
	return s.rides().
		Where("passengerId", "==", passengerID).
		Where("status", "in", activeStatuses).
		OrderBy("createdAt", firestore.Desc)
}

func (s *FirestoreStore) ActiveForPassenger(ctx context.Context, passengerID string) (models.RideRequest, error) {
	docs, err := s.activeQuery(passengerID).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return models.RideRequest{}, fmt.Errorf("query active ride: %w", err)
	}
	if len(docs) == 0 {
		return models.RideRequest{}, fmt.Errorf("%w: no active ride for %s", ErrNotFound, passengerID)
	}
	return decodeRide(docs[0])
}

func (s *FirestoreStore) WatchPassenger(ctx context.Context, passengerID string) (*stream.Subscription[[]models.RideRequest], error) {
	sub := stream.New[[]models.RideRequest](ctx, 4)
	it := s.activeQuery(passengerID).Snapshots(sub.Context())
	sub.OnUnsubscribe(it.Stop)

	go func() {
		for {
			qs, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled && !errors.Is(err, context.Canceled) {
					sub.Fail(err)
				}
				sub.Unsubscribe()
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				s.logger.Warn("read passenger query snapshot failed", "passenger_id", passengerID, "error", err)
				continue
			}
			rides := make([]models.RideRequest, 0, len(docs))
			for _, d := range docs {
				r, err := decodeRide(d)
				if err != nil {
					continue
				}
				rides = append(rides, r)
			}
			if !sub.Send(rides) {
				return
			}
		}
	}()
	return sub, nil
}

func (s *FirestoreStore) PutOffer(ctx context.Context, o models.DriverOffer) error {
	if o.RideID == "" {
		return models.ErrMissingID
	}
	_, err := s.client.Collection(offersCollection).Doc(o.RideID).Set(ctx, o)
	return err
}

func (s *FirestoreStore) ListWaiting(ctx context.Context, limit int) ([]models.RideRequest, error) {
	q := s.rides().Where("status", "==", string(models.StatusWaiting)).OrderBy("createdAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	it := q.Documents(ctx)
	defer it.Stop()
	var out []models.RideRequest
	for {
		d, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list waiting: %w", err)
		}
		r, err := decodeRide(d)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeRide(snap *firestore.DocumentSnapshot) (models.RideRequest, error) {
	var r models.RideRequest
	if err := snap.DataTo(&r); err != nil {
		return models.RideRequest{}, fmt.Errorf("decode ride %s: %w", snap.Ref.ID, err)
	}
	if r.ID == "" {
		r.ID = snap.Ref.ID
	}
	return r, nil
}
