package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tcsgo-engine/internal/ack"
	"tcsgo-engine/internal/catalog"
	"tcsgo-engine/internal/engine"
	"tcsgo-engine/internal/model"
	"tcsgo-engine/internal/pricing"
	"tcsgo-engine/internal/queue"
	"tcsgo-engine/pkg/uid"
)

// QueueFamily is the single command queue all economy jobs share. One
// family means one drainer at a time and strict FIFO across all users,
// which is what keeps ledger writes single-writer.
const QueueFamily = "economy"

// drainTimeout bounds one background drain pass.
const drainTimeout = 2 * time.Minute

// maxPurchaseQuantity caps one purchase. Besides being a sanity limit, it
// keeps cost = price * quantity far away from int64 overflow, which would
// wrap the cost and slip past the balance check.
const maxPurchaseQuantity = 100

// EconomyService orchestrates the economy commands: validate, charge the
// wallet, enqueue, kick the drainer and await the ack. It never touches
// ledgers directly; only the drain loop's executor does.
type EconomyService struct {
	catalog    *catalog.Catalog
	prices     *pricing.Book
	wallet     Wallet
	executor   *engine.Executor
	ledgers    *engine.LedgerStore
	queue      *queue.JobQueue
	broker     ack.Broker
	dispatcher *ack.Dispatcher

	// ownerID identifies this process instance in queue leases.
	ownerID string
	now     func() time.Time
}

// NewEconomyService creates the economy orchestrator.
func NewEconomyService(
	cat *catalog.Catalog,
	prices *pricing.Book,
	wallet Wallet,
	executor *engine.Executor,
	ledgers *engine.LedgerStore,
	q *queue.JobQueue,
	broker ack.Broker,
	dispatcher *ack.Dispatcher,
) *EconomyService {
	return &EconomyService{
		catalog:    cat,
		prices:     prices,
		wallet:     wallet,
		executor:   executor,
		ledgers:    ledgers,
		queue:      q,
		broker:     broker,
		dispatcher: dispatcher,
		ownerID:    uid.New(),
		now:        time.Now,
	}
}

// OwnerID returns this instance's queue lease identity.
func (s *EconomyService) OwnerID() string { return s.ownerID }

// OpenData is the success payload of an open-container command.
type OpenData struct {
	Item    model.OwnedItem `json:"item"`
	Tier    string          `json:"tier"`
	Price   int64           `json:"price"`
	CaseID  string          `json:"caseId"`
	Balance int64           `json:"balance"`
}

// BuyData is the success payload of a purchase command.
type BuyData struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Cost     int64  `json:"cost"`
	Balance  int64  `json:"balance"`
}

// SellData is the success payload of a sell command.
type SellData struct {
	ItemOID string `json:"itemOid"`
	Price   int64  `json:"price"`
	Balance int64  `json:"balance"`
}

// OpenCase dispatches an open-container command and awaits its outcome.
// Opening spends an owned case (and key), not wallet points, so there is
// nothing to compensate on failure.
func (s *EconomyService) OpenCase(ctx context.Context, identity model.Identity, caseRef string) (model.Result, error) {
	if err := identity.Validate(); err != nil {
		return model.Result{}, err
	}
	def, ok := s.catalog.Resolve(caseRef)
	if !ok {
		return model.Result{}, fmt.Errorf("unknown case %q", caseRef)
	}

	job := model.Job{
		EventID:    uid.NewEvent(),
		Kind:       model.KindOpenContainer,
		Identity:   identity,
		Params:     model.JobParams{ContainerID: def.ID},
		EnqueuedAt: s.now().UTC(),
	}
	return s.dispatch(ctx, job), nil
}

// BuyCases charges the wallet for quantity cases and dispatches the grant.
// The charge is refunded only on a definite failure; an unknown outcome
// keeps the charge, because the cases may well have been granted.
func (s *EconomyService) BuyCases(ctx context.Context, identity model.Identity, caseRef string, quantity int) (model.Result, error) {
	if err := identity.Validate(); err != nil {
		return model.Result{}, err
	}
	if quantity <= 0 || quantity > maxPurchaseQuantity {
		return model.Result{}, fmt.Errorf("quantity must be between 1 and %d, got %d", maxPurchaseQuantity, quantity)
	}
	def, ok := s.catalog.Resolve(caseRef)
	if !ok {
		return model.Result{}, fmt.Errorf("unknown case %q", caseRef)
	}
	price, ok := s.prices.CasePrice(def.ID)
	if !ok {
		return model.Result{}, fmt.Errorf("no price for case %q", def.ID)
	}
	cost := price * int64(quantity)

	balance, err := s.wallet.Debit(ctx, identity, cost)
	if err != nil {
		return model.Result{}, err
	}

	job := model.Job{
		EventID:         uid.NewEvent(),
		Kind:            model.KindBuyContainer,
		Identity:        identity,
		Params:          model.JobParams{ContainerID: def.ID, Quantity: quantity},
		Cost:            cost,
		BalanceSnapshot: balance,
		EnqueuedAt:      s.now().UTC(),
	}
	result := s.dispatch(ctx, job)
	s.compensate(ctx, job, result)
	return result, nil
}

// BuyKeys charges the wallet for quantity keys and dispatches the grant.
func (s *EconomyService) BuyKeys(ctx context.Context, identity model.Identity, keyID string, quantity int) (model.Result, error) {
	if err := identity.Validate(); err != nil {
		return model.Result{}, err
	}
	if quantity <= 0 || quantity > maxPurchaseQuantity {
		return model.Result{}, fmt.Errorf("quantity must be between 1 and %d, got %d", maxPurchaseQuantity, quantity)
	}
	price, ok := s.prices.KeyPrice(keyID)
	if !ok {
		return model.Result{}, fmt.Errorf("no price for key %q", keyID)
	}
	cost := price * int64(quantity)

	balance, err := s.wallet.Debit(ctx, identity, cost)
	if err != nil {
		return model.Result{}, err
	}

	job := model.Job{
		EventID:         uid.NewEvent(),
		Kind:            model.KindBuyKey,
		Identity:        identity,
		Params:          model.JobParams{KeyID: keyID, Quantity: quantity},
		Cost:            cost,
		BalanceSnapshot: balance,
		EnqueuedAt:      s.now().UTC(),
	}
	result := s.dispatch(ctx, job)
	s.compensate(ctx, job, result)
	return result, nil
}

// SellItem dispatches a sell command. The wallet credit happens inside the
// drain loop once the item has actually been removed.
func (s *EconomyService) SellItem(ctx context.Context, identity model.Identity, itemOID string) (model.Result, error) {
	if err := identity.Validate(); err != nil {
		return model.Result{}, err
	}
	if itemOID == "" {
		return model.Result{}, fmt.Errorf("item oid is required")
	}

	job := model.Job{
		EventID:    uid.NewEvent(),
		Kind:       model.KindSellItem,
		Identity:   identity,
		Params:     model.JobParams{ItemOID: itemOID},
		EnqueuedAt: s.now().UTC(),
	}
	return s.dispatch(ctx, job), nil
}

// Inventory returns the identity's ledger, creating one on first touch.
func (s *EconomyService) Inventory(ctx context.Context, identity model.Identity) (*model.Ledger, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	return s.ledgers.Resolve(ctx, identity)
}

// Balance returns the identity's wallet balance.
func (s *EconomyService) Balance(ctx context.Context, identity model.Identity) (int64, error) {
	if err := identity.Validate(); err != nil {
		return 0, err
	}
	return s.wallet.Balance(ctx, identity)
}

// dispatch enqueues the job, kicks an async drain and awaits the ack.
func (s *EconomyService) dispatch(ctx context.Context, job model.Job) model.Result {
	return s.dispatcher.DispatchAndAwait(ctx, job.EventID, job.Kind, job.Identity, func(ctx context.Context) error {
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return err
		}
		s.KickDrain()
		return nil
	})
}

// compensate refunds a prepaid job on a definite failure. Unknown outcomes
// are left alone: the job may have landed, and refunding it would mint
// points out of thin air.
func (s *EconomyService) compensate(ctx context.Context, job model.Job, result model.Result) {
	switch result.Status {
	case model.StatusDefiniteFailure:
		if job.Cost > 0 {
			if _, err := s.wallet.Credit(ctx, job.Identity, job.Cost); err != nil {
				log.Printf("[EconomyService] Refund of %d for failed %s %s did not land: %v", job.Cost, job.Kind, job.EventID, err)
			}
		}
	case model.StatusUnknown:
		log.Printf("[EconomyService] Outcome of %s %s unknown, charge of %d kept", job.Kind, job.EventID, job.Cost)
	}
}

// KickDrain starts a background drain pass. Safe to call at any rate: the
// queue lease collapses concurrent passes into one.
func (s *EconomyService) KickDrain() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := s.queue.Drain(ctx, s.ownerID, s.process); err != nil {
			log.Printf("[EconomyService] Drain pass failed: %v", err)
		}
	}()
}

// process executes one dequeued job and publishes its ack. Errors that
// leave the ledger state uncertain publish no ack at all; the submitter's
// deadline then resolves the dispatch to unknown, which is the only honest
// answer.
func (s *EconomyService) process(ctx context.Context, job model.Job) {
	var (
		data json.RawMessage
		err  error
	)

	switch job.Kind {
	case model.KindOpenContainer:
		data, err = s.processOpen(ctx, job)
	case model.KindBuyContainer:
		data, err = s.processBuyCases(ctx, job)
	case model.KindBuyKey:
		data, err = s.processBuyKeys(ctx, job)
	case model.KindSellItem:
		data, err = s.processSell(ctx, job)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
		s.publishAck(ctx, job, nil, err)
		return
	}

	if err != nil && !definite(err) {
		log.Printf("[EconomyService] %s %s left uncertain state, withholding ack: %v", job.Kind, job.EventID, err)
		return
	}
	s.publishAck(ctx, job, data, err)
}

// errSaleReverted marks a sale whose wallet credit failed but whose item
// was put back, making the failure definite.
var errSaleReverted = errors.New("sale reverted")

// definite reports whether an execution error is known to have left the
// ledger untouched (or fully restored).
func definite(err error) bool {
	return engine.IsDefiniteFailure(err) || errors.Is(err, errSaleReverted)
}

func (s *EconomyService) processOpen(ctx context.Context, job model.Job) (json.RawMessage, error) {
	res, err := s.executor.OpenContainer(ctx, job.Identity, job.Params.ContainerID)
	if err != nil {
		return nil, err
	}
	balance, _ := s.wallet.Balance(ctx, job.Identity)
	return marshalData(OpenData{
		Item:    res.Item,
		Tier:    res.Outcome.Tier,
		Price:   res.Outcome.Price,
		CaseID:  job.Params.ContainerID,
		Balance: balance,
	})
}

func (s *EconomyService) processBuyCases(ctx context.Context, job model.Job) (json.RawMessage, error) {
	if _, err := s.executor.BuyContainers(ctx, job.Identity, job.Params.ContainerID, job.Params.Quantity); err != nil {
		return nil, err
	}
	balance, _ := s.wallet.Balance(ctx, job.Identity)
	return marshalData(BuyData{
		ID:       job.Params.ContainerID,
		Quantity: job.Params.Quantity,
		Cost:     job.Cost,
		Balance:  balance,
	})
}

func (s *EconomyService) processBuyKeys(ctx context.Context, job model.Job) (json.RawMessage, error) {
	if _, err := s.executor.BuyKeys(ctx, job.Identity, job.Params.KeyID, job.Params.Quantity); err != nil {
		return nil, err
	}
	balance, _ := s.wallet.Balance(ctx, job.Identity)
	return marshalData(BuyData{
		ID:       job.Params.KeyID,
		Quantity: job.Params.Quantity,
		Cost:     job.Cost,
		Balance:  balance,
	})
}

// processSell removes the item, credits the wallet, then finalizes the
// ticket. A failed credit restores the item and fails the sale outright.
func (s *EconomyService) processSell(ctx context.Context, job model.Job) (json.RawMessage, error) {
	ticket, err := s.executor.SellItem(ctx, job.Identity, job.Params.ItemOID, job.EventID)
	if err != nil {
		return nil, err
	}

	balance, err := s.wallet.Credit(ctx, job.Identity, ticket.Price)
	if err != nil {
		log.Printf("[EconomyService] Credit for sale %s failed, restoring item %s: %v", job.EventID, ticket.Item.OID, err)
		if restoreErr := s.executor.RestorePendingSell(ctx, job.Identity, job.EventID); restoreErr != nil {
			return nil, fmt.Errorf("credit failed and restore failed: %v: %w", err, restoreErr)
		}
		return nil, fmt.Errorf("credit for item %q failed: %v: %w", ticket.Item.OID, err, errSaleReverted)
	}

	if err := s.executor.ClearPendingSell(ctx, job.Identity, job.EventID); err != nil {
		// The sale and credit both landed; a lingering ticket only blocks the
		// next sale until a later pass clears it.
		log.Printf("[EconomyService] Could not clear sell ticket %s: %v", job.EventID, err)
	}

	return marshalData(SellData{
		ItemOID: ticket.Item.OID,
		Price:   ticket.Price,
		Balance: balance,
	})
}

func marshalData(v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode ack data: %w", err)
	}
	return raw, nil
}

func (s *EconomyService) publishAck(ctx context.Context, job model.Job, data json.RawMessage, execErr error) {
	payload := model.AckPayload{
		EventID:   job.EventID,
		Type:      job.Kind,
		Identity:  job.Identity,
		OK:        execErr == nil,
		Data:      data,
		Complete:  true,
		CreatedAt: s.now().UTC(),
	}
	if execErr != nil {
		payload.Error = execErr.Error()
	}
	if err := s.broker.Publish(ctx, payload); err != nil {
		log.Printf("[EconomyService] Publish ack for %s failed: %v", job.EventID, err)
	}
}

// QueueDepth exposes the command queue length for the admin surface.
func (s *EconomyService) QueueDepth(ctx context.Context) (int, error) {
	return s.queue.Depth(ctx)
}

// QueueLock exposes the current drain lease for the admin surface.
func (s *EconomyService) QueueLock(ctx context.Context) (*model.ActiveLock, error) {
	return s.queue.LockInfo(ctx)
}
