package store

import (
	"context"
	"encoding/base64"
	"sort"
	"sync/atomic"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
)

// CloverStore is the pure-Go backend. Clover has no cross-collection
// transactions, so Apply degrades to ordered sequential writes with queue
// collections first; a crash mid-batch can lose a domain record but never a
// queued mutation. The sqlite backend keeps the strict guarantee.
type CloverStore struct {
	db     *clover.DB
	logger types.Logger
	config *types.StoreConfig
	state  atomic.Value
}

func NewCloverStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.DurableStore, error) {
	db, err := clover.Open(config.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover store")
	}

	c := &CloverStore{
		db:     db,
		logger: logger,
		config: config,
	}

	c.state.Store(StateStopped)
	return c, nil
}

func (c *CloverStore) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if c.getState() == StateStarting {
			c.setState(StateRunning)
		}
	}()

	c.logger.Info("Clover store started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverStore) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		c.setState(StateStopped)
	}()

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover store")
	}

	c.logger.Info("Clover store stopped gracefully")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *CloverStore) EnsureCollection(ctx context.Context, collection string) error {
	exists, err := c.db.HasCollection(collection)
	if err != nil {
		return types.Errorf(types.ErrStoreReadFailed, "introspect %s: %v", collection, err)
	}

	if exists {
		return nil
	}

	if err := c.db.CreateCollection(collection); err != nil {
		return types.Errorf(types.ErrStoreWriteFailed, "create %s: %v", collection, err)
	}

	return nil
}

func (c *CloverStore) Put(ctx context.Context, collection, key string, value []byte) error {
	if err := c.checkCollection(collection); err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(value)

	query := c.db.Query(collection).Where(clover.Field("key").Eq(key))
	count, err := query.Count()
	if err != nil {
		return types.Errorf(types.ErrStoreReadFailed, "put %s/%s: %v", collection, key, err)
	}

	if count > 0 {
		err = c.db.Query(collection).Where(clover.Field("key").Eq(key)).
			Update(map[string]interface{}{"value": encoded})
		if err != nil {
			return types.Errorf(types.ErrStoreWriteFailed, "put %s/%s: %v", collection, key, err)
		}
		return nil
	}

	doc := clover.NewDocument()
	doc.Set("key", key)
	doc.Set("value", encoded)

	if err := c.db.Insert(collection, doc); err != nil {
		return types.Errorf(types.ErrStoreWriteFailed, "put %s/%s: %v", collection, key, err)
	}

	return nil
}

func (c *CloverStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if err := c.checkCollection(collection); err != nil {
		return nil, err
	}

	docs, err := c.db.Query(collection).Where(clover.Field("key").Eq(key)).Limit(1).FindAll()
	if err != nil {
		return nil, types.Errorf(types.ErrStoreReadFailed, "get %s/%s: %v", collection, key, err)
	}

	if len(docs) == 0 {
		return nil, types.Errorf(types.ErrStoreKeyNotFound, "%s/%s", collection, key)
	}

	return decodeDocumentValue(docs[0])
}

func (c *CloverStore) Delete(ctx context.Context, collection, key string) error {
	if err := c.checkCollection(collection); err != nil {
		return err
	}

	err := c.db.Query(collection).Where(clover.Field("key").Eq(key)).Delete()
	if err != nil {
		return types.Errorf(types.ErrStoreWriteFailed, "delete %s/%s: %v", collection, key, err)
	}

	return nil
}

func (c *CloverStore) Scan(ctx context.Context, collection string, filter types.StoredRecordFilter) ([]types.StoredRecord, error) {
	if err := c.checkCollection(collection); err != nil {
		return nil, err
	}

	docs, err := c.db.Query(collection).FindAll()
	if err != nil {
		return nil, types.Errorf(types.ErrStoreReadFailed, "scan %s: %v", collection, err)
	}

	var records []types.StoredRecord
	for _, doc := range docs {
		docMap := make(map[string]interface{})
		if err := doc.Unmarshal(&docMap); err != nil {
			continue
		}

		key, ok := docMap["key"].(string)
		if !ok {
			continue
		}

		value, err := decodeDocumentValue(doc)
		if err != nil {
			continue
		}

		if filter == nil || filter(key, value) {
			records = append(records, types.StoredRecord{Key: key, Value: value})
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Key < records[j].Key
	})

	return records, nil
}

func (c *CloverStore) Apply(ctx context.Context, ops []types.StoreOp) error {
	if len(ops) == 0 {
		return types.ErrStoreBatchEmpty
	}

	for _, op := range orderForDurability(ops) {
		var err error
		switch op.Kind {
		case types.StoreOpPut:
			err = c.Put(ctx, op.Collection, op.Key, op.Value)
		case types.StoreOpDelete:
			err = c.Delete(ctx, op.Collection, op.Key)
		default:
			err = types.Errorf(types.ErrInvalidParameter, "op kind: %d", op.Kind)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// orderForDurability moves mutation queue and dead-letter writes to the front
// so a partial batch always keeps the queued mutation.
func orderForDurability(ops []types.StoreOp) []types.StoreOp {
	ordered := make([]types.StoreOp, 0, len(ops))
	for _, op := range ops {
		if op.Collection == types.CollectionMutationQueue || op.Collection == types.CollectionMutationFailures {
			ordered = append(ordered, op)
		}
	}
	for _, op := range ops {
		if op.Collection != types.CollectionMutationQueue && op.Collection != types.CollectionMutationFailures {
			ordered = append(ordered, op)
		}
	}
	return ordered
}

func (c *CloverStore) Count(ctx context.Context, collection string) (int64, error) {
	if err := c.checkCollection(collection); err != nil {
		return 0, err
	}

	count, err := c.db.Query(collection).Count()
	if err != nil {
		return 0, types.Errorf(types.ErrStoreReadFailed, "count %s: %v", collection, err)
	}

	return int64(count), nil
}

func (c *CloverStore) Clear(ctx context.Context, collection string) error {
	if err := c.checkCollection(collection); err != nil {
		return err
	}

	if err := c.db.Query(collection).Delete(); err != nil {
		return types.Errorf(types.ErrStoreWriteFailed, "clear %s: %v", collection, err)
	}

	return nil
}

func (c *CloverStore) checkCollection(collection string) error {
	exists, err := c.db.HasCollection(collection)
	if err != nil {
		return types.Errorf(types.ErrStoreReadFailed, "introspect %s: %v", collection, err)
	}

	if !exists {
		return types.Errorf(types.ErrStoreCollectionUnknown, "%s", collection)
	}

	return nil
}

func decodeDocumentValue(doc *clover.Document) ([]byte, error) {
	docMap := make(map[string]interface{})
	if err := doc.Unmarshal(&docMap); err != nil {
		return nil, types.Errorf(types.ErrStoreReadFailed, "decode document: %v", err)
	}

	encoded, ok := docMap["value"].(string)
	if !ok {
		return nil, types.Errorf(types.ErrStoreReadFailed, "document value is not a string")
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.Errorf(types.ErrStoreReadFailed, "decode document value: %v", err)
	}

	return value, nil
}

func (c *CloverStore) getState() State {
	return c.state.Load().(State)
}

func (c *CloverStore) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *CloverStore) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}
