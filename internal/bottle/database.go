package bottle

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	scanBucketName  = "scans"
	brandBucketName = "brands"
)

// ErrNotFound is returned when a scan or brand does not exist
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// SaveScan creates or replaces a scan
	SaveScan(scan *Scan) error

	// GetScan retrieves a scan by ID
	GetScan(id string) (*Scan, error)

	// ListScans returns all scans, newest first
	ListScans() ([]*Scan, error)

	// DeleteScan removes a scan from the database
	DeleteScan(id string) error

	// SaveBrand appends a brand to the catalog
	SaveBrand(brand *Brand) error

	// ListBrands returns the catalog in the order brands were added
	ListBrands() ([]*Brand, error)

	// DeleteBrand removes a brand by name, case-insensitively
	DeleteBrand(name string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens the database at path, creating the buckets if needed
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{scanBucketName, brandBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveScan saves a scan to the database
func (b *BoltDB) SaveScan(scan *Scan) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		data, err := json.Marshal(scan)
		if err != nil {
			return fmt.Errorf("marshaling scan: %w", err)
		}
		return bucket.Put([]byte(scan.ID), data)
	})
}

// GetScan retrieves a scan by ID
func (b *BoltDB) GetScan(id string) (*Scan, error) {
	var scan *Scan
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &scan)
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// ListScans returns all scans, newest first
func (b *BoltDB) ListScans() ([]*Scan, error) {
	scans := make([]*Scan, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var scan Scan
			if err := json.Unmarshal(v, &scan); err != nil {
				return fmt.Errorf("unmarshaling scan: %w", err)
			}
			scans = append(scans, &scan)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// keys are random UUIDs, so order by time here
	sort.SliceStable(scans, func(i, j int) bool {
		return scans[i].CreatedAt.After(scans[j].CreatedAt)
	})
	return scans, nil
}

// DeleteScan removes a scan from the database
func (b *BoltDB) DeleteScan(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// SaveBrand appends a brand to the catalog. Brands are keyed by a bucket
// sequence so iteration order is insertion order, which is match priority.
// A name already in the catalog, ignoring case, fails with ErrDuplicateBrand.
func (b *BoltDB) SaveBrand(brand *Brand) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(brandBucketName))
		err := bucket.ForEach(func(k, v []byte) error {
			var existing Brand
			if err := json.Unmarshal(v, &existing); err != nil {
				return fmt.Errorf("unmarshaling brand: %w", err)
			}
			if strings.EqualFold(existing.Name, brand.Name) {
				return fmt.Errorf("%s: %w", brand.Name, ErrDuplicateBrand)
			}
			return nil
		})
		if err != nil {
			return err
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating brand key: %w", err)
		}
		data, err := json.Marshal(brand)
		if err != nil {
			return fmt.Errorf("marshaling brand: %w", err)
		}
		return bucket.Put(sequenceKey(seq), data)
	})
}

// ListBrands returns the catalog in insertion order
func (b *BoltDB) ListBrands() ([]*Brand, error) {
	brands := make([]*Brand, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(brandBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var brand Brand
			if err := json.Unmarshal(v, &brand); err != nil {
				return fmt.Errorf("unmarshaling brand: %w", err)
			}
			brands = append(brands, &brand)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return brands, nil
}

// DeleteBrand removes every catalog entry whose name matches, ignoring case
func (b *BoltDB) DeleteBrand(name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(brandBucketName))

		var keys [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var brand Brand
			if err := json.Unmarshal(v, &brand); err != nil {
				return fmt.Errorf("unmarshaling brand: %w", err)
			}
			if strings.EqualFold(brand.Name, name) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return fmt.Errorf("brand %s: %w", name, ErrNotFound)
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
