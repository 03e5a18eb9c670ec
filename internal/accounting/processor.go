// Package accounting applies normalized pool events to pool, token, extension and bucket state.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ammLedger/internal/aggregate"
	"ammLedger/internal/metrics"
	"ammLedger/internal/model"
	"ammLedger/internal/pricing"
	"ammLedger/internal/storage"
)

var (
	// ErrUnsupportedEvent is returned for event kinds the processor does not handle.
	ErrUnsupportedEvent = errors.New("unsupported event")
	// ErrInvalidEvent is returned when an event lacks the fields its kind needs.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrPersist wraps failures to commit an event's writes. Nothing of the event was stored.
	ErrPersist = errors.New("persist event")
)

// Config holds processor dependencies other than the backend.
type Config struct {
	Roles   pricing.Roles
	Gate    pricing.Gate
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Processor applies events one at a time per pool. Events of different pools may be applied
// concurrently as long as they do not share a token.
type Processor struct {
	backend storage.Backend
	roles   pricing.Roles
	gate    pricing.Gate
	logger  *zap.Logger
	metrics *metrics.Metrics

	pools      storage.Table[model.Pool]
	tokens     storage.Table[model.Token]
	extensions storage.Table[model.PoolExtension]
	ledger     aggregate.Ledger
}

func NewProcessor(backend storage.Backend, cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := pricing.NewGate(cfg.Gate.TokenPriceOutlierThreshold, cfg.Gate.PoolTVLOutlierThreshold)
	return &Processor{
		backend:    backend,
		roles:      cfg.Roles,
		gate:       gate,
		logger:     logger,
		metrics:    cfg.Metrics,
		pools:      storage.NewTable[model.Pool](storage.KindPool),
		tokens:     storage.NewTable[model.Token](storage.KindToken),
		extensions: storage.NewTable[model.PoolExtension](storage.KindPoolExtension),
		ledger:     aggregate.NewLedger(),
	}
}

// GateDecision is the gate outcome for one token of an event.
type GateDecision struct {
	TokenID string
	Outcome pricing.Outcome
}

// Result describes what Apply did with an event.
type Result struct {
	PoolID  string
	Skipped bool
	Writes  int
	Gate    []GateDecision
}

// Apply processes one event and commits all of its writes at once. Events already covered by
// the pool's stored position are skipped.
func (p *Processor) Apply(ctx context.Context, event model.PoolEvent) (Result, error) {
	started := time.Now()
	kind := string(event.Kind)

	handler, ok := p.handler(event)
	if !ok {
		p.metrics.EventFailed(kind, "unsupported")
		return Result{}, fmt.Errorf("%s %s: %w", event.Kind, event.Key(), ErrUnsupportedEvent)
	}
	if event.PoolAddress == "" || event.Token0.Address == "" || event.Token1.Address == "" {
		p.metrics.EventFailed(kind, "invalid")
		return Result{}, fmt.Errorf("%s %s: missing pool or token address: %w", event.Kind, event.Key(), ErrInvalidEvent)
	}

	sess := storage.NewSession(ctx, p.backend)
	st, err := p.load(sess, event)
	if err != nil {
		p.metrics.EventFailed(kind, failureReason(err))
		return Result{}, fmt.Errorf("load %s: %w", event.Key(), err)
	}
	result := Result{PoolID: st.pool.ID}
	if st.pool.Covers(event) {
		p.metrics.EventSkipped(kind)
		p.logger.Debug("event already applied",
			zap.String("pool", st.pool.ID),
			zap.Uint64("block", event.BlockNumber),
			zap.Uint64("log_index", event.LogIndex),
		)
		result.Skipped = true
		return result, nil
	}

	if err := handler(st); err != nil {
		p.metrics.EventFailed(kind, failureReason(err))
		return result, fmt.Errorf("%s %s: %w", event.Kind, event.Key(), err)
	}
	st.pool = st.pool.WithPosition(event)

	if err := p.stage(sess, st); err != nil {
		p.metrics.EventFailed(kind, "encode")
		return result, err
	}
	result.Writes = sess.Pending()
	result.Gate = st.decisions
	if err := sess.Commit(); err != nil {
		p.metrics.EventFailed(kind, "persist")
		return result, fmt.Errorf("%w %s: %w", ErrPersist, event.Key(), err)
	}

	p.metrics.EventProcessed(kind, string(st.pool.Protocol), started, result.Writes)
	return result, nil
}

func (p *Processor) handler(event model.PoolEvent) (func(*state) error, bool) {
	switch event.Kind {
	case model.EventMint:
		return p.applyMint, true
	case model.EventBurn:
		return p.applyBurn, true
	case model.EventCollect:
		return p.applyCollect, true
	case model.EventModifyLiquidity:
		return p.applyModifyLiquidity, true
	case model.EventSwap:
		return p.applySwap, true
	case model.EventSync:
		return p.applySync, true
	case model.EventInitialize:
		return p.applyInitialize, true
	case model.EventConfig:
		return p.applyConfig, true
	default:
		return nil, false
	}
}

// state is the snapshot an event is computed from and the values it writes back.
type state struct {
	event model.PoolEvent

	pool       model.Pool
	token0     model.Token
	token1     model.Token
	extension  model.PoolExtension
	references [2]*model.Pool
	buckets    aggregate.Buckets

	extensionChanged bool
	bucketsOpen      bool
	decisions        []GateDecision
}

func (p *Processor) load(sess *storage.Session, event model.PoolEvent) (*state, error) {
	poolID := model.EntityID(event.ChainID, event.PoolAddress)
	token0ID := model.EntityID(event.ChainID, event.Token0.Address)
	token1ID := model.EntityID(event.ChainID, event.Token1.Address)

	pool, _, err := p.pools.GetOrCreate(sess, poolID, func() model.Pool {
		return model.NewPool(event, poolID, token0ID, token1ID)
	})
	if err != nil {
		return nil, err
	}
	token0, _, err := p.tokens.GetOrCreate(sess, pool.Token0ID, func() model.Token {
		return model.NewToken(event.ChainID, pool.Token0ID, event.Token0)
	})
	if err != nil {
		return nil, err
	}
	token1, _, err := p.tokens.GetOrCreate(sess, pool.Token1ID, func() model.Token {
		return model.NewToken(event.ChainID, pool.Token1ID, event.Token1)
	})
	if err != nil {
		return nil, err
	}
	extension, _, err := p.extensions.GetOrCreate(sess, poolID, func() model.PoolExtension {
		return model.PoolExtension{ID: poolID}
	})
	if err != nil {
		return nil, err
	}

	st := &state{
		event:     event,
		pool:      pool,
		token0:    token0,
		token1:    token1,
		extension: extension,
	}
	if pool.Covers(event) {
		return st, nil
	}

	if repricing(pool.Protocol, event.Kind) {
		for i, token := range []model.Token{token0, token1} {
			ref, err := p.reference(sess, token, poolID)
			if err != nil {
				return nil, err
			}
			st.references[i] = ref
		}
	}
	if touchesBuckets(event.Kind) {
		st.buckets, err = p.ledger.Open(sess, pool, event.Timestamp)
		if err != nil {
			return nil, err
		}
		st.bucketsOpen = true
	}
	return st, nil
}

// reference loads the pool currently pricing token when it is not the proposing pool.
func (p *Processor) reference(sess *storage.Session, token model.Token, poolID string) (*model.Pool, error) {
	if token.MostLiquidPoolID == "" || token.MostLiquidPoolID == poolID {
		return nil, nil
	}
	ref, err := p.pools.GetOrThrow(sess, token.MostLiquidPoolID)
	if err != nil {
		return nil, fmt.Errorf("most liquid pool of %s: %w", token.ID, err)
	}
	return &ref, nil
}

func (p *Processor) stage(sess *storage.Session, st *state) error {
	if err := p.pools.Set(sess, st.pool); err != nil {
		return err
	}
	if err := p.tokens.Set(sess, st.token0); err != nil {
		return err
	}
	if err := p.tokens.Set(sess, st.token1); err != nil {
		return err
	}
	if st.extensionChanged {
		if err := p.extensions.Set(sess, st.extension); err != nil {
			return err
		}
	}
	if st.bucketsOpen {
		return p.ledger.Save(sess, st.buckets)
	}
	return nil
}

func repricing(protocol model.Protocol, kind model.EventKind) bool {
	switch kind {
	case model.EventSync:
		return true
	case model.EventSwap:
		return protocol != model.ProtocolConstantProduct
	default:
		return false
	}
}

func touchesBuckets(kind model.EventKind) bool {
	switch kind {
	case model.EventInitialize, model.EventConfig:
		return false
	default:
		return true
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrEntityNotFound):
		return "entity_not_found"
	case errors.Is(err, pricing.ErrNoAnchorTokenFound):
		return "no_anchor_token"
	case errors.Is(err, ErrInvalidEvent):
		return "invalid"
	default:
		return "error"
	}
}
