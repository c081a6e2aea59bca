package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sadenet/hotspot-gobackend/internal/models"
)

type MongoTransactionStore struct {
	col *mongo.Collection
}

func NewMongoTransactionStore(db *mongo.Database) *MongoTransactionStore {
	return &MongoTransactionStore{col: db.Collection("transactions")}
}

// EnsureIndexes creates the indexes the query paths rely on. The unique
// index on checkout_request_id backs the idempotency key.
func (s *MongoTransactionStore) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{Keys: bson.M{"checkout_request_id": 1}, Options: options.Index().SetUnique(true)},
		{Keys: bson.M{"status": 1, "created_at": -1}},
	}
	_, err := s.col.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		log.Printf("Failed to create transaction indexes: %v", err)
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}
	return nil
}

func (s *MongoTransactionStore) Insert(ctx context.Context, tx *models.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.col.InsertOne(ctx, tx); err != nil {
		log.Printf("Failed to insert transaction %s: %v", tx.CheckoutRequestID, err)
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *MongoTransactionStore) Get(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tx models.Transaction
	err := s.col.FindOne(ctx, bson.M{"checkout_request_id": checkoutRequestID}).Decode(&tx)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		log.Printf("Failed to fetch transaction %s: %v", checkoutRequestID, err)
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return &tx, nil
}

func (s *MongoTransactionStore) CompleteIfPending(ctx context.Context, checkoutRequestID, status, receipt, payerName string) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Filtering on status=Pending makes the read-check-transition a single
	// server-side operation; a concurrent duplicate delivery matches nothing.
	filter := bson.M{
		"checkout_request_id": checkoutRequestID,
		"status":              models.StatusPending,
	}
	set := bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}
	if receipt != "" {
		set["mpesa_receipt"] = receipt
	}
	if payerName != "" {
		set["payer_name"] = payerName
	}

	var updated models.Transaction
	err := s.col.FindOneAndUpdate(ctx, filter, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		log.Printf("Failed to finalize transaction %s: %v", checkoutRequestID, err)
		return nil, fmt.Errorf("failed to finalize transaction: %w", err)
	}

	// Nothing matched: either the token is unknown or the transaction was
	// finalized earlier. A plain read distinguishes the two for the caller.
	if _, err := s.Get(ctx, checkoutRequestID); err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return nil, ErrAlreadyFinal
}

func (s *MongoTransactionStore) ListByStatus(ctx context.Context, status string) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cur, err := s.col.Find(ctx, bson.M{"status": status}, options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		log.Printf("Failed to fetch transactions with status %s: %v", status, err)
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	defer cur.Close(ctx)

	var txs []models.Transaction
	if err := cur.All(ctx, &txs); err != nil {
		log.Printf("Failed to decode transactions: %v", err)
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txs, nil
}

type MongoVoucherStore struct {
	col *mongo.Collection
}

func NewMongoVoucherStore(db *mongo.Database) *MongoVoucherStore {
	return &MongoVoucherStore{col: db.Collection("vouchers")}
}

func (s *MongoVoucherStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"code": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Printf("Failed to create voucher index: %v", err)
		return fmt.Errorf("failed to create voucher index: %w", err)
	}
	return nil
}

func (s *MongoVoucherStore) Insert(ctx context.Context, v *models.Voucher) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.col.InsertOne(ctx, v); err != nil {
		log.Printf("Failed to insert voucher %s: %v", v.Code, err)
		return fmt.Errorf("failed to insert voucher: %w", err)
	}
	return nil
}

func (s *MongoVoucherStore) RedeemIfUnused(ctx context.Context, code, redeemedBy string) (*models.Voucher, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"code": code, "used": false}
	update := bson.M{"$set": bson.M{
		"used":        true,
		"redeemed_by": redeemedBy,
		"redeemed_at": time.Now(),
	}}

	var v models.Voucher
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&v)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrVoucherUnavailable
		}
		log.Printf("Failed to redeem voucher %s: %v", code, err)
		return nil, fmt.Errorf("failed to redeem voucher: %w", err)
	}
	return &v, nil
}
