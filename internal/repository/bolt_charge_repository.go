package repository

import (
	"context"
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
	"github.com/akylbek/payment-system/pix-charges/internal/models"
)

const chargesBucket = "charges"

var _ interfaces.ChargeRepository = (*BoltChargeRepository)(nil)

// BoltChargeRepository keeps charges in a single BoltDB file, one JSON
// document per txid. Bolt runs one write transaction at a time, which is
// what makes TransitionStatus a compare-and-set.
type BoltChargeRepository struct {
	db *bolt.DB
}

// NewBoltChargeRepository opens (or creates) the database at path and
// ensures the charges bucket exists.
func NewBoltChargeRepository(path string) (*BoltChargeRepository, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(chargesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltChargeRepository{db: db}, nil
}

func (r *BoltChargeRepository) Close() error {
	return r.db.Close()
}

func (r *BoltChargeRepository) Insert(_ context.Context, charge *models.Charge) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(chargesBucket))
		if b.Get([]byte(charge.TxID)) != nil {
			return ErrDuplicate
		}
		data, err := json.Marshal(charge)
		if err != nil {
			return err
		}
		return b.Put([]byte(charge.TxID), data)
	})
	return storeErr("insert", err)
}

func (r *BoltChargeRepository) GetByTxID(_ context.Context, txid string) (*models.Charge, error) {
	var c models.Charge
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(chargesBucket)).Get([]byte(txid))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &c)
	})
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return &c, nil
}

func (r *BoltChargeRepository) TransitionStatus(_ context.Context, txid string, from, to models.ChargeStatus) (bool, error) {
	applied := false
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(chargesBucket))
		v := b.Get([]byte(txid))
		if v == nil {
			return nil
		}

		var c models.Charge
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		if c.Status != from {
			return nil
		}

		c.Status = to
		c.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(&c)
		if err != nil {
			return err
		}
		applied = true
		return b.Put([]byte(txid), data)
	})
	if err != nil {
		return false, storeErr("transition", err)
	}
	return applied, nil
}
