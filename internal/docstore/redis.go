package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// pathField is stored alongside user fields so that an empty document is
// still a non-empty hash. It is never returned to callers.
const pathField = "__path"

// writeScript applies one document write atomically.
//
// KEYS[1] document hash, KEYS[2] collection index set, KEYS[3] owner
// document hash or "". ARGV[1] mode, ARGV[2] document id, ARGV[3..] field
// and value pairs.
var writeScript = redis.NewScript(`
if KEYS[3] ~= '' and redis.call('EXISTS', KEYS[3]) == 0 then
  return 'owner_missing'
end
local exists = redis.call('EXISTS', KEYS[1]) == 1
local mode = ARGV[1]
if mode == 'create' and exists then
  return 'exists'
end
if mode == 'update' and not exists then
  return 'missing'
end
if mode == 'set' then
  redis.call('DEL', KEYS[1])
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('SADD', KEYS[2], ARGV[2])
return 'ok'
`)

// RedisStore keeps each document in a hash, indexes collections in sets and
// announces every change on a pub/sub channel per document and collection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// docKey returns the hash key holding a document.
func docKey(p Path) string {
	return fmt.Sprintf("doc:%s", p)
}

// indexKey returns the set key listing a collection's document ids.
func indexKey(coll Path) string {
	return fmt.Sprintf("idx:%s", coll)
}

// changeChannel returns the pub/sub channel announcing changes to p.
func changeChannel(p Path) string {
	return fmt.Sprintf("chg:%s", p)
}

func (s *RedisStore) Get(ctx context.Context, doc Path) (Document, error) {
	if err := checkDocument("get", doc); err != nil {
		return Document{}, err
	}
	raw, err := s.client.HGetAll(ctx, docKey(doc)).Result()
	if err != nil {
		return Document{}, newError(KindUnavailable, "get", doc, err)
	}
	if len(raw) == 0 {
		return Document{}, newError(KindNotFound, "get", doc, nil)
	}
	return Document{Path: doc, Fields: fieldsFromHash(raw)}, nil
}

func (s *RedisStore) List(ctx context.Context, coll Path, orderBy string) ([]Document, error) {
	if err := checkCollection("list", coll); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, indexKey(coll)).Result()
	if err != nil {
		return nil, newError(KindUnavailable, "list", coll, err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, docKey(coll.Child(id)))
		}
		return nil
	})
	if err != nil {
		return nil, newError(KindUnavailable, "list", coll, err)
	}
	out := make([]Document, 0, len(ids))
	for i, cmd := range cmds {
		raw := cmd.Val()
		if len(raw) == 0 {
			continue
		}
		out = append(out, Document{Path: coll.Child(ids[i]), Fields: fieldsFromHash(raw)})
	}
	sortDocuments(out, orderBy)
	return out, nil
}

func (s *RedisStore) Create(ctx context.Context, doc Path, f Fields) error {
	return s.write(ctx, "create", doc, f, "create")
}

func (s *RedisStore) Add(ctx context.Context, coll Path, f Fields) (string, error) {
	if err := checkCollection("add", coll); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.write(ctx, "add", coll.Child(id), f, "create"); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) Set(ctx context.Context, doc Path, f Fields) error {
	return s.write(ctx, "set", doc, f, "set")
}

func (s *RedisStore) Merge(ctx context.Context, doc Path, f Fields) error {
	return s.write(ctx, "merge", doc, f, "merge")
}

func (s *RedisStore) Update(ctx context.Context, doc Path, f Fields) error {
	return s.write(ctx, "update", doc, f, "update")
}

func (s *RedisStore) write(ctx context.Context, op string, doc Path, f Fields, mode string) error {
	if err := checkDocument(op, doc); err != nil {
		return err
	}
	owner := ""
	if o := doc.Owner(); o != "" {
		owner = docKey(o)
	}
	args := make([]any, 0, 4+2*len(f))
	args = append(args, mode, doc.ID(), pathField, string(doc))
	for k, v := range f {
		args = append(args, k, string(v))
	}
	res, err := writeScript.Run(ctx, s.client, []string{docKey(doc), indexKey(doc.Parent()), owner}, args...).Text()
	if err != nil {
		return newError(KindUnavailable, op, doc, err)
	}
	switch res {
	case "ok":
	case "owner_missing":
		return newError(KindNotFound, op, doc.Owner(), nil)
	case "exists":
		return newError(KindAlreadyExists, op, doc, nil)
	case "missing":
		return newError(KindNotFound, op, doc, nil)
	default:
		return newError(KindUnknown, op, doc, fmt.Errorf("unexpected script result %q", res))
	}
	s.announce(ctx, doc)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, doc Path) error {
	if err := checkDocument("delete", doc); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(doc))
		pipe.SRem(ctx, indexKey(doc.Parent()), doc.ID())
		return nil
	})
	if err != nil {
		return newError(KindUnavailable, "delete", doc, err)
	}
	s.announce(ctx, doc)
	return nil
}

// announce publishes the change to the document and collection channels.
// The write already happened, so a failed publish is only logged;
// subscribers catch up on their next notification.
func (s *RedisStore) announce(ctx context.Context, doc Path) {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, changeChannel(doc), "1")
		pipe.Publish(ctx, changeChannel(doc.Parent()), "1")
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("path", string(doc)).Msg("change announcement failed")
	}
}

// subscribe confirms the pub/sub subscription before the first snapshot is
// loaded, so no change between the two can be missed. go-redis resubscribes
// after a dropped connection; that confirmation also triggers a refresh so
// changes announced while disconnected are picked up.
func (s *RedisStore) subscribe(ctx context.Context, p Path) (chan struct{}, func(), error) {
	ps := s.client.Subscribe(ctx, changeChannel(p))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, newError(KindUnavailable, "watch", p, err)
	}
	notify := make(chan struct{}, 1)
	go func() {
		for range ps.ChannelWithSubscriptions() {
			signal(notify)
		}
	}()
	release := func() { _ = ps.Close() }
	return notify, release, nil
}

func (s *RedisStore) WatchDocument(ctx context.Context, doc Path, fn DocumentFunc) (*Subscription, error) {
	if err := checkDocument("watch", doc); err != nil {
		return nil, err
	}
	notify, release, err := s.subscribe(ctx, doc)
	if err != nil {
		return nil, err
	}
	get := func(ctx context.Context) (Document, error) { return s.Get(ctx, doc) }
	return watch(ctx, notify, release, documentRefresh(get, fn)), nil
}

func (s *RedisStore) WatchCollection(ctx context.Context, coll Path, orderBy string, fn CollectionFunc) (*Subscription, error) {
	if err := checkCollection("watch", coll); err != nil {
		return nil, err
	}
	notify, release, err := s.subscribe(ctx, coll)
	if err != nil {
		return nil, err
	}
	list := func(ctx context.Context) ([]Document, error) { return s.List(ctx, coll, orderBy) }
	return watch(ctx, notify, release, collectionRefresh(list, fn)), nil
}

func fieldsFromHash(raw map[string]string) Fields {
	f := make(Fields, len(raw))
	for k, v := range raw {
		if k == pathField {
			continue
		}
		f[k] = json.RawMessage(v)
	}
	return f
}
